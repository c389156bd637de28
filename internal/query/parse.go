package query

import (
	"regexp"
	"strings"
)

const lookupCall = "getMethod("

var (
	invokedPattern = regexp.MustCompile(`getMethod\('(\w+)'\)\(`)
	literalPattern = regexp.MustCompile(`getMethod\('(\w+)'`)
)

// lookupSite is a getMethod call recognised in a line of text. Offsets are
// byte offsets into that line.
type lookupSite struct {
	Receiver      string
	ReceiverStart int
	MethodName    string
	NameStart     int
	NameEnd       int
	// ArgsStart is where the invoked method's argument list begins.
	ArgsStart int
}

// completionSite recognises a prefix ending in getMethod( or getMethod('.
func completionSite(prefix string) (lookupSite, bool, bool) {
	var at int
	var insideLiteral bool
	switch {
	case strings.HasSuffix(prefix, lookupCall+"'"):
		at = len(prefix) - len(lookupCall) - 1
		insideLiteral = true
	case strings.HasSuffix(prefix, lookupCall):
		at = len(prefix) - len(lookupCall)
	default:
		return lookupSite{}, false, false
	}

	receiver, start, ok := receiverBefore(prefix, at)
	if !ok {
		return lookupSite{}, false, false
	}
	return lookupSite{Receiver: receiver, ReceiverStart: start}, insideLiteral, true
}

// signatureSite finds the last getMethod('name')( in prefix whose argument
// list is still open at the end of prefix.
func signatureSite(prefix string) (lookupSite, bool) {
	matches := invokedPattern.FindAllStringSubmatchIndex(prefix, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if !argsOpen(prefix[m[1]:]) {
			continue
		}
		receiver, start, ok := receiverBefore(prefix, m[0])
		if !ok {
			return lookupSite{}, false
		}
		return lookupSite{
			Receiver:      receiver,
			ReceiverStart: start,
			MethodName:    prefix[m[2]:m[3]],
			NameStart:     m[2],
			NameEnd:       m[3],
			ArgsStart:     m[1],
		}, true
	}
	return lookupSite{}, false
}

// literalSiteAt finds the getMethod('name' whose name covers byte offset
// col, both ends inclusive.
func literalSiteAt(line string, col int) (lookupSite, bool) {
	for _, m := range literalPattern.FindAllStringSubmatchIndex(line, -1) {
		if col < m[2] || col > m[3] {
			continue
		}
		receiver, start, ok := receiverBefore(line, m[0])
		if !ok {
			return lookupSite{}, false
		}
		return lookupSite{
			Receiver:      receiver,
			ReceiverStart: start,
			MethodName:    line[m[2]:m[3]],
			NameStart:     m[2],
			NameEnd:       m[3],
		}, true
	}
	return lookupSite{}, false
}

// receiverBefore reads the member chain in front of the call starting at
// byte offset at: "svc." yields "svc", "this." yields "this", nothing yields
// "". Calls on computed values ("f().getMethod(") and identifiers that merely
// end in getMethod are rejected.
func receiverBefore(line string, at int) (string, int, bool) {
	if at == 0 {
		return "", at, true
	}

	prev := line[at-1]
	if isIdentByte(prev) {
		return "", 0, false
	}
	if prev != '.' {
		return "", at, true
	}

	end := at - 1
	if end > 0 && line[end-1] == '?' {
		end--
	}

	start := end
	for start > 0 && (isIdentByte(line[start-1]) || line[start-1] == '.') {
		start--
	}

	receiver := line[start:end]
	if receiver == "" || strings.HasPrefix(receiver, ".") || strings.HasSuffix(receiver, ".") {
		return "", 0, false
	}
	return receiver, start, true
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// argsOpen reports whether an argument list whose text so far is s has not
// been closed yet.
func argsOpen(s string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return true
}
