package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

// maxLineDigits is how many characters after the kind letter carry the duration.
const maxLineDigits = 4

// ParseLine turns an operator line ("A5", "S120") into a command for target.
// Only the leading digits of the first four characters count; no digits means 0,
// which the processor then clamps to the default.
func ParseLine(line string, target entities.BoardID) (entities.TimingCommand, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return entities.TimingCommand{}, fmt.Errorf("%w: empty line", ErrInvalidCommand)
	}

	cmd := entities.TimingCommand{Target: target}
	switch line[0] {
	case 'A':
		cmd.Kind = entities.SetActiveDuration
	case 'S':
		cmd.Kind = entities.SetSleepDuration
	default:
		return cmd, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, line[0])
	}

	field := line[1:]
	if len(field) > maxLineDigits {
		field = field[:maxLineDigits]
	}
	var secs uint32
	for _, r := range field {
		if r < '0' || r > '9' {
			break
		}
		secs = secs*10 + uint32(r-'0')
	}
	cmd.Duration = secs
	return cmd, nil
}

// LineReader scans newline-terminated operator commands from a text stream.
type LineReader struct {
	r      io.Reader
	target entities.BoardID
}

func NewLineReader(r io.Reader, target entities.BoardID) *LineReader {
	return &LineReader{r: r, target: target}
}

// Run delivers every parsed command to sink until EOF or ctx is done.
// Unparseable lines go to onError and are skipped.
func (l *LineReader) Run(ctx context.Context, sink func(entities.TimingCommand), onError func(string, error)) error {
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		cmd, err := ParseLine(text, l.target)
		if err != nil {
			if onError != nil {
				onError(text, err)
			}
			continue
		}
		sink(cmd)
	}
	return sc.Err()
}
