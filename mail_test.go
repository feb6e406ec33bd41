package postwhite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testTemplates(t *testing.T) *Templates {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "messages.yml"), []byte(testMessagesYAML), 0640); err != nil {
		t.Fatal(err)
	}
	templates, err := LoadTemplates(dir)
	if err != nil {
		t.Fatalf("LoadTemplates: %s", err)
	}
	return templates
}

func TestBuildDefaultsReplyToFrom(t *testing.T) {
	templates := testTemplates(t)
	mail := &OutgoingMail{
		Template: "learn-allow-advisory",
		To:       "hitchhike@dent.tld",
		Data:     map[string]string{"sender_domain": "sirius.tld"},
	}

	msg, err := Build(templates, mail, "postwhite@dent.tld", "<1@dent.tld>", func() string { return "Thu, 01 Jan 2026 00:00:00 +0000" })
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	out := string(msg)
	if !strings.Contains(out, "Reply-To: postwhite@dent.tld") {
		t.Errorf("expected Reply-To to default to From, got:\n%s", out)
	}
	if !strings.Contains(out, "reply to allow sirius.tld") {
		t.Errorf("expected rendered body, got:\n%s", out)
	}
	if !strings.Contains(out, "-- postwhite") {
		t.Errorf("expected footer, got:\n%s", out)
	}
}

func TestBuildHonorsExplicitReplyTo(t *testing.T) {
	templates := testTemplates(t)
	mail := &OutgoingMail{
		Template: "learn-deny-advisory",
		To:       "hitchhike@dent.tld",
		ReplyTo:  "hitchhike+deny-sirius.tld@dent.tld",
		Data:     map[string]string{"sender_domain": "sirius.tld"},
	}

	msg, err := Build(templates, mail, "postwhite@dent.tld", "<2@dent.tld>", func() string { return "now" })
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	if !strings.Contains(string(msg), "Reply-To: hitchhike+deny-sirius.tld@dent.tld") {
		t.Errorf("expected explicit Reply-To, got:\n%s", string(msg))
	}
}
