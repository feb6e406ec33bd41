package postwhite

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// recognized is the key set the MTA policy protocol may send that
// postwhite retains; everything else is silently dropped (§4.A).
var recognized = map[string]bool{
	"client_address": true,
	"client_name":    true,
	"sender":         true,
	"recipient":      true,
	"sasl_username":  true,
	"instance":       true,
}

// commandSuffix matches local+verb[-arg]@domain per §4.A / §6.
var commandSuffix = regexp.MustCompile(`^(.+)\+(info|learn|allow|swallow|deny)-?(.*)?@(.+)$`)

// ParseRequest reads one key=value block, terminated by a blank line, off
// r and returns the decoded Request. It returns a *MalformedRequest if the
// stream ends before a blank line or required keys are missing.
func ParseRequest(r io.Reader) (*Request, error) {
	raw := make(map[string]string)

	scanner := bufio.NewScanner(r)
	sawBlank := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			sawBlank = true
			break
		}
		key, value, ok := splitKV(line)
		if !ok {
			continue
		}
		if !recognized[key] {
			continue
		}
		raw[key] = strings.ToLower(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, &MalformedRequest{Reason: err.Error()}
	}
	if !sawBlank {
		return nil, &MalformedRequest{Reason: "stream ended before blank line"}
	}

	req := &Request{
		ClientAddress: raw["client_address"],
		ClientName:    raw["client_name"],
		Sender:        raw["sender"],
		Recipient:     raw["recipient"],
		SASLUsername:  raw["sasl_username"],
		Instance:      raw["instance"],
	}
	if req.Recipient == "" {
		return nil, &MalformedRequest{Reason: "missing recipient"}
	}

	extractCommand(req)
	splitSender(req)

	return req, nil
}

func splitKV(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+1:], true
}

func extractCommand(req *Request) {
	m := commandSuffix.FindStringSubmatch(req.Recipient)
	if m == nil {
		return
	}
	req.Recipient = m[1] + "@" + m[4]
	req.Command = Verb(m[2])
	req.Argument = strings.ReplaceAll(m[3], "-at-", "@")
	req.HasCmd = true
}

func splitSender(req *Request) {
	i := strings.LastIndexByte(req.Sender, '@')
	if i < 0 {
		req.SenderLocal = req.Sender
		return
	}
	req.SenderLocal = req.Sender[:i]
	req.SenderDomain = req.Sender[i+1:]
}
