// Package keys implements the key/input codec: a pure function turning
// textual key specs into the byte sequences a VT-like terminal expects
// on its input side, covering xterm's modifier and application-mode
// encodings.
package keys

import (
	"fmt"
	"strings"
	"time"
)

// Mode carries the emulator state that changes how navigation keys are
// encoded. DECCKM (application cursor keys) is the only bit the codec
// needs; it is supplied by the caller (internal/term.Screen) rather than
// read directly, keeping Encode a pure function.
type Mode struct {
	AppCursorKeys bool
}

// Error codes returned by this package, matching the daemon's error
// taxonomy.
const (
	CodeInvalidKey = "INVALID_KEY"
	CodeInvalidArg = "INVALID_ARG"
)

// CodecError is returned by Encode/EncodeSequence; Code is one of the
// taxonomy constants above.
type CodecError struct {
	Code string
	Msg  string
}

func (e *CodecError) Error() string { return e.Msg }

func errInvalidKey(spec string) error {
	return &CodecError{Code: CodeInvalidKey, Msg: fmt.Sprintf("unknown key spec %q", spec)}
}

func errInvalidArg(msg string) error {
	return &CodecError{Code: CodeInvalidArg, Msg: msg}
}

// namedKeys maps lower-cased key names (and aliases) to a canonical name.
var namedKeys = map[string]string{
	"enter": "enter", "return": "enter",
	"tab": "tab",
	"escape": "escape", "esc": "escape",
	"space": "space",
	"backspace": "backspace",
	"delete": "delete", "del": "delete",
	"insert": "insert", "ins": "insert",
	"up": "up", "arrowup": "up",
	"down": "down", "arrowdown": "down",
	"left": "left", "arrowleft": "left",
	"right": "right", "arrowright": "right",
	"home": "home",
	"end":  "end",
	"pageup": "pageup", "pgup": "pageup",
	"pagedown": "pagedown", "pgdn": "pagedown",
	"f1": "f1", "f2": "f2", "f3": "f3", "f4": "f4",
	"f5": "f5", "f6": "f6", "f7": "f7", "f8": "f8",
	"f9": "f9", "f10": "f10", "f11": "f11", "f12": "f12",
	"plus": "plus",
}

// functionTilde maps F5-F12 to their xterm CSI <n>~ codes.
var functionTilde = map[string]int{
	"f5": 15, "f6": 17, "f7": 18, "f8": 19,
	"f9": 20, "f10": 21, "f11": 23, "f12": 24,
}

// functionSS3 maps F1-F4 to their SS3/CSI-P..S final bytes.
var functionSS3 = map[string]byte{
	"f1": 'P', "f2": 'Q', "f3": 'R', "f4": 'S',
}

// Encode parses one key spec (optional "+"-separated modifiers followed
// by a base key) and returns the bytes a terminal-attached program would
// see on its input. mode.AppCursorKeys selects CSI vs SS3 encoding for
// arrow/Home/End keys per DECCKM.
func Encode(spec string, mode Mode) ([]byte, error) {
	if spec == "" {
		return nil, errInvalidKey(spec)
	}
	parts := strings.Split(spec, "+")
	for _, p := range parts {
		if p == "" {
			return nil, errInvalidKey(spec)
		}
	}

	var ctrl, alt, shift bool
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(p) {
		case "ctrl", "control":
			ctrl = true
		case "alt", "meta", "option":
			alt = true
		case "shift":
			shift = true
		default:
			return nil, errInvalidKey(spec)
		}
	}

	return encodeBase(parts[len(parts)-1], ctrl, alt, shift, mode, spec)
}

func encodeBase(base string, ctrl, alt, shift bool, mode Mode, origSpec string) ([]byte, error) {
	lower := strings.ToLower(base)

	if name, ok := namedKeys[lower]; ok {
		return encodeNamed(name, ctrl, alt, shift, mode, origSpec)
	}

	runes := []rune(base)
	if len(runes) != 1 {
		return nil, errInvalidKey(origSpec)
	}
	r := runes[0]

	if !ctrl && !alt && !shift {
		return []byte(string(r)), nil
	}

	// Single-letter keys are case-insensitive once combined with a
	// modifier: "ctrl+a" and "ctrl+A" are identical.
	if shift && !ctrl && !alt {
		return []byte(strings.ToUpper(string(r))), nil
	}

	if ctrl {
		if r < 'a' || r > 'z' {
			if r >= 'A' && r <= 'Z' {
				r = r - 'A' + 'a'
			} else {
				return nil, errInvalidKey(origSpec)
			}
		}
		ctrlByte := byte(r-'a'+1) & 0x1F
		out := []byte{ctrlByte}
		if alt {
			out = append([]byte{0x1b}, out...)
		}
		return out, nil
	}

	// alt only, no ctrl
	out := []byte(strings.ToLower(string(r)))
	if shift {
		out = []byte(strings.ToUpper(string(r)))
	}
	return append([]byte{0x1b}, out...), nil
}

// xtermMod computes the CSI modifier parameter (2=shift,3=alt,4=shift+alt,
// 5=ctrl,6=shift+ctrl,7=alt+ctrl,8=shift+alt+ctrl; 1 means "none").
func xtermMod(ctrl, alt, shift bool) int {
	mod := 1
	if shift {
		mod++
	}
	if alt {
		mod += 2
	}
	if ctrl {
		mod += 4
	}
	return mod
}

func navSeq(final byte, mod int, app bool) []byte {
	if mod > 1 {
		return []byte(fmt.Sprintf("\x1b[1;%d%c", mod, final))
	}
	if app {
		return []byte{0x1b, 'O', final}
	}
	return []byte{0x1b, '[', final}
}

func tildeSeq(code, mod int) []byte {
	if mod > 1 {
		return []byte(fmt.Sprintf("\x1b[%d;%d~", code, mod))
	}
	return []byte(fmt.Sprintf("\x1b[%d~", code))
}

func encodeNamed(name string, ctrl, alt, shift bool, mode Mode, origSpec string) ([]byte, error) {
	mod := xtermMod(ctrl, alt, shift)

	switch name {
	case "enter":
		if ctrl || alt {
			return nil, errInvalidKey(origSpec)
		}
		return []byte("\r"), nil
	case "tab":
		if shift && !ctrl && !alt {
			return []byte("\x1b[Z"), nil
		}
		if ctrl || alt {
			return nil, errInvalidKey(origSpec)
		}
		return []byte("\t"), nil
	case "escape":
		if ctrl || alt || shift {
			return nil, errInvalidKey(origSpec)
		}
		return []byte("\x1b"), nil
	case "space":
		if ctrl {
			return []byte{0x00}, nil
		}
		if alt {
			return []byte("\x1b "), nil
		}
		return []byte(" "), nil
	case "backspace":
		if ctrl || alt || shift {
			return nil, errInvalidKey(origSpec)
		}
		return []byte{0x7f}, nil
	case "delete":
		return tildeSeq(3, mod), nil
	case "insert":
		return tildeSeq(2, mod), nil
	case "up":
		return navSeq('A', mod, mode.AppCursorKeys), nil
	case "down":
		return navSeq('B', mod, mode.AppCursorKeys), nil
	case "right":
		return navSeq('C', mod, mode.AppCursorKeys), nil
	case "left":
		return navSeq('D', mod, mode.AppCursorKeys), nil
	case "home":
		return navSeq('H', mod, mode.AppCursorKeys), nil
	case "end":
		return navSeq('F', mod, mode.AppCursorKeys), nil
	case "pageup":
		return tildeSeq(5, mod), nil
	case "pagedown":
		return tildeSeq(6, mod), nil
	case "plus":
		if ctrl || alt || shift {
			return nil, errInvalidKey(origSpec)
		}
		return []byte("+"), nil
	default:
		if final, ok := functionSS3[name]; ok {
			if mod > 1 {
				return []byte(fmt.Sprintf("\x1b[1;%d%c", mod, final)), nil
			}
			return []byte{0x1b, 'O', final}, nil
		}
		if code, ok := functionTilde[name]; ok {
			return tildeSeq(code, mod), nil
		}
		return nil, errInvalidKey(origSpec)
	}
}

// Chunk is one encoded key spec from a sequence, paired with the delay
// that should be waited before writing it (zero for the first chunk).
type Chunk struct {
	Bytes []byte
	Delay time.Duration
}

// EncodeSequence splits input on ASCII whitespace into individual key
// specs, encodes each with Encode, and returns them paired with the
// inter-key delay. delayMs must be within [0, 10000]; out-of-range values
// fail with INVALID_ARG.
func EncodeSequence(input string, delayMs int, mode Mode) ([]Chunk, error) {
	if delayMs < 0 || delayMs > 10000 {
		return nil, errInvalidArg(fmt.Sprintf("delay_ms %d out of range [0, 10000]", delayMs))
	}
	specs := strings.Fields(input)
	if len(specs) == 0 {
		return nil, errInvalidArg("empty key sequence")
	}
	delay := time.Duration(delayMs) * time.Millisecond

	chunks := make([]Chunk, 0, len(specs))
	for i, spec := range specs {
		b, err := Encode(spec, mode)
		if err != nil {
			return nil, err
		}
		d := delay
		if i == 0 {
			d = 0
		}
		chunks = append(chunks, Chunk{Bytes: b, Delay: d})
	}
	return chunks, nil
}
