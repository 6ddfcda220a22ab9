package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errWordTooLong = errors.New("device: word length out of range")

const maxWordLength = 1 << 24

// encodeLength encodes a word length using the RouterOS variable length
// prefix.
func encodeLength(l int) []byte {
	switch {
	case l < 0x80:
		return []byte{byte(l)}
	case l < 0x4000:
		l |= 0x8000
		return []byte{byte(l >> 8), byte(l)}
	case l < 0x200000:
		l |= 0xC00000
		return []byte{byte(l >> 16), byte(l >> 8), byte(l)}
	case l < 0x10000000:
		l |= 0xE0000000
		return []byte{byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)}
	default:
		return []byte{0xF0, byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)}
	}
}

func readLength(r io.ByteReader) (int, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	var extra int
	var l int
	switch {
	case b0&0x80 == 0x00:
		return int(b0), nil
	case b0&0xC0 == 0x80:
		extra, l = 1, int(b0&^0xC0)
	case b0&0xE0 == 0xC0:
		extra, l = 2, int(b0&^0xE0)
	case b0&0xF0 == 0xE0:
		extra, l = 3, int(b0&^0xF0)
	case b0 == 0xF0:
		extra, l = 4, 0
	default:
		return 0, fmt.Errorf("device: invalid length prefix 0x%02x", b0)
	}

	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		l = l<<8 | int(b)
	}
	return l, nil
}

func writeWord(w *bufio.Writer, word string) error {
	if _, err := w.Write(encodeLength(len(word))); err != nil {
		return err
	}
	_, err := w.WriteString(word)
	return err
}

// writeSentence writes words followed by the zero-length terminator and
// flushes.
func writeSentence(w *bufio.Writer, words []string) error {
	for _, word := range words {
		if err := writeWord(w, word); err != nil {
			return err
		}
	}
	if err := w.WriteByte(0); err != nil {
		return err
	}
	return w.Flush()
}

func readWord(r *bufio.Reader) (string, error) {
	l, err := readLength(r)
	if err != nil {
		return "", err
	}
	if l > maxWordLength {
		return "", errWordTooLong
	}
	if l == 0 {
		return "", nil
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readSentence(r *bufio.Reader) ([]string, error) {
	var words []string
	for {
		word, err := readWord(r)
		if err != nil {
			return nil, err
		}
		if word == "" {
			return words, nil
		}
		words = append(words, word)
	}
}

// reply is one decoded sentence: its type word ("!re", "!done", ...) and the
// "=key=value" attributes that followed it.
type reply struct {
	kind  string
	attrs Record
}

func parseSentence(words []string) reply {
	rep := reply{attrs: Record{}}
	if len(words) == 0 {
		return rep
	}
	rep.kind = words[0]
	for _, word := range words[1:] {
		if !strings.HasPrefix(word, "=") {
			// .tag and similar control words
			continue
		}
		kv := word[1:]
		i := strings.Index(kv, "=")
		if i < 0 {
			rep.attrs[kv] = ""
			continue
		}
		rep.attrs[kv[:i]] = kv[i+1:]
	}
	return rep
}
