package gcode

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Word may either give a command or provide an argument to a command.
type Word struct {
	letter rune
	number float64
	// The original text that declared this word, kept so rewrites of other words in a line do not
	// change the representation of this one.
	originalStr string
}

// NewWord creates a Word from given letter and number.
// letter must be capitalised, or it'll panic.
func NewWord(letter rune, number float64) Word {
	if letter < 'A' || letter > 'Z' {
		panic(fmt.Sprintf("bug: attempting to create word with letter not between A-Z: %c", letter))
	}
	return Word{letter: letter, number: number}
}

// NewWordParse creates a Word from given letter and a raw number string.
func NewWordParse(letter rune, number string) (Word, error) {
	parsedNumber, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Word{}, err
	}
	return Word{
		letter:      unicode.ToUpper(letter),
		number:      parsedNumber,
		originalStr: string(letter) + number,
	}, nil
}

func (w Word) Letter() rune {
	return w.letter
}

func (w Word) Number() float64 {
	return w.number
}

// IsCommand returns true if the word is a command (letter G or M).
func (w Word) IsCommand() bool {
	return w.letter == 'G' || w.letter == 'M'
}

// String gives the original representation of a parsed word, or a normalized one for words
// created with NewWord.
func (w Word) String() string {
	if w.originalStr != "" {
		return w.originalStr
	}
	return w.NormalizedString()
}

// NormalizedString always return a consistent representation using uppercase letters, single
// point float precision for commands and 4 ponts precision for arguments.
func (w Word) NormalizedString() string {
	if w.IsCommand() {
		integer, frac := math.Modf(w.number)
		if frac == 0 {
			return fmt.Sprintf("%c%.0f", w.letter, integer)
		}
		return fmt.Sprintf("%c%.1f", w.letter, w.number)
	}
	return fmt.Sprintf("%c%.4f", w.letter, w.number)
}

var wordRegexp = regexp.MustCompile(`([A-Za-z])\s*([-+]?(?:\d+\.?\d*|\.\d+))`)

// Words returns all letter/number words found in the line, in order. Text which does not form a
// word (system commands, checksums, comments) is skipped.
func Words(line string) []Word {
	var words []Word
	for _, m := range wordRegexp.FindAllStringSubmatch(line, -1) {
		word, err := NewWordParse(rune(m[1][0]), m[2])
		if err != nil {
			continue
		}
		words = append(words, word)
	}
	return words
}

// Argument returns the number of the first non-command word with the given letter.
func Argument(line string, letter rune) (float64, bool) {
	letter = unicode.ToUpper(letter)
	for _, w := range Words(line) {
		if w.letter == letter && !w.IsCommand() {
			return w.number, true
		}
	}
	return 0, false
}

const (
	// CommandHold is the identifier given to the feed hold real time command.
	CommandHold = "Hold"
	// CommandResume is the identifier given to the cycle start / resume real time command.
	CommandResume = "Resume"
)

var commandIDRegexp = regexp.MustCompile(`(?i)^\s*\$?(?:([GM])(\d+)|([TH]))`)

// CommandID derives the identifier of the command in the line: the leading G or M number ("G1",
// "M104"), the T / H letters ($H gives "H"), or CommandHold / CommandResume for the feed hold and
// resume real time commands. It returns "" for anything else.
func CommandID(line string) string {
	switch strings.TrimSpace(line) {
	case "!":
		return CommandHold
	case "~":
		return CommandResume
	}
	m := commandIDRegexp.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	if m[3] != "" {
		return strings.ToUpper(m[3])
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s%d", strings.ToUpper(m[1]), number)
}

// StripComment removes everything after the first unescaped ';'.
func StripComment(line string) string {
	if !strings.Contains(line, ";") {
		return line
	}
	var b strings.Builder
	escaped := false
	for _, c := range line {
		if c == ';' && !escaped {
			break
		}
		b.WriteRune(c)
		escaped = c == '\\' && !escaped
	}
	return b.String()
}

// Process strips comments and surrounding whitespace. An empty result means there is nothing to
// send.
func Process(line string) string {
	return strings.TrimSpace(StripComment(line))
}
