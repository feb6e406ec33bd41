package postwhite

import (
	"fmt"
	"sort"
)

// executeCommand mutates Store/Spool for an authorized command message per
// §4.F. info causes no mutation; the decision engine renders its reply-mail
// separately, after this returns.
func executeCommand(store Store, spool Spool, req *Request) error {
	switch req.Command {
	case VerbInfo:
		return nil
	case VerbLearn:
		return spool.BeginLearning(req.Recipient)
	case VerbAllow:
		if err := store.Add(req.Recipient, req.Argument, MethodAllow); err != nil {
			return err
		}
		return spool.EndLearning(req.Recipient)
	case VerbSwallow:
		return store.Add(req.Recipient, req.Argument, MethodSwallow)
	case VerbDeny:
		if err := store.Remove(req.Recipient, req.Argument); err != nil {
			return err
		}
		return spool.EndLearning(req.Recipient)
	default:
		return fmt.Errorf("unknown command verb %q", req.Command)
	}
}

// whitelistDump renders the recipient's current allow-list, sorted by
// pattern, for binding into the "info" template as its "whitelist" local.
func whitelistDump(store Store, recipient string) (string, error) {
	entries, err := store.Dump(recipient)
	if err != nil {
		return "", err
	}
	return formatDump(entries), nil
}

func formatDump(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pattern < sorted[j].Pattern })

	out := ""
	for _, e := range sorted {
		out += fmt.Sprintf("%s\t%s\n", e.Pattern, e.Method)
	}
	return out
}
