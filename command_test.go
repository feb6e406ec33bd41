package postwhite

import (
	"testing"
	"time"
)

func TestExecuteCommandAllow(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	spool := NewFileSpool(dir, 60*time.Minute)

	if err := spool.BeginLearning("r@dom.tld"); err != nil {
		t.Fatalf("BeginLearning: %s", err)
	}

	req := &Request{Recipient: "r@dom.tld", Command: VerbAllow, Argument: "example.tld"}
	if err := executeCommand(store, spool, req); err != nil {
		t.Fatalf("executeCommand: %s", err)
	}

	entries, err := store.Dump("r@dom.tld")
	if err != nil {
		t.Fatalf("Dump: %s", err)
	}
	if len(entries) != 1 || entries[0].Pattern != "example.tld" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	learning, err := spool.IsLearning("r@dom.tld")
	if err != nil {
		t.Fatalf("IsLearning: %s", err)
	}
	if learning {
		t.Errorf("expected allow to end learning mode")
	}
}

func TestExecuteCommandSwallowKeepsLearning(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	spool := NewFileSpool(dir, 60*time.Minute)
	if err := spool.BeginLearning("r@dom.tld"); err != nil {
		t.Fatalf("BeginLearning: %s", err)
	}

	req := &Request{Recipient: "r@dom.tld", Command: VerbSwallow, Argument: "noisy@list.tld"}
	if err := executeCommand(store, spool, req); err != nil {
		t.Fatalf("executeCommand: %s", err)
	}

	learning, err := spool.IsLearning("r@dom.tld")
	if err != nil {
		t.Fatalf("IsLearning: %s", err)
	}
	if !learning {
		t.Errorf("swallow must not consume the learning marker (only allow/deny do)")
	}
}

func TestWhitelistDumpIsSorted(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if err := store.Add("r@dom.tld", "zz.tld", MethodAllow); err != nil {
		t.Fatal(err)
	}
	if err := store.Add("r@dom.tld", "aa.tld", MethodSwallow); err != nil {
		t.Fatal(err)
	}

	out, err := whitelistDump(store, "r@dom.tld")
	if err != nil {
		t.Fatalf("whitelistDump: %s", err)
	}
	want := "aa.tld\tSWALLOW\nzz.tld\tALLOW\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

