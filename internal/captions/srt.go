package captions

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/editstack/cutcore/pkg/models"
)

// ParseSRT reads SubRip text into cue inputs. Index lines are optional
// and both "," and "." millisecond separators are accepted, so VTT-style
// timestamps pass through. The result goes through BuildTrack like any
// engine output.
func ParseSRT(r io.Reader) ([]CueInput, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cues []CueInput
	var block []string
	first := true

	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		cue, err := parseSRTBlock(block)
		if err != nil {
			return err
		}
		if cue != nil {
			cues = append(cues, *cue)
		}
		block = block[:0]
		return nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}

		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle text: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return cues, nil
}

func parseSRTBlock(lines []string) (*CueInput, error) {
	i := 0
	// Optional numeric index line.
	if _, err := strconv.Atoi(strings.TrimSpace(lines[i])); err == nil {
		i++
	}
	if i >= len(lines) {
		return nil, nil
	}

	start, end, err := parseSRTTiming(lines[i])
	if err != nil {
		return nil, err
	}
	i++

	text := strings.Join(lines[i:], "\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return &CueInput{StartSeconds: start, EndSeconds: end, Text: text}, nil
}

func parseSRTTiming(line string) (float64, float64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid subtitle timing line: %q", line)
	}

	start, err := parseSRTTime(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseSRTTime(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseSRTTime(s string) (float64, error) {
	// HH:MM:SS,mmm with optional hours
	fields := strings.Split(s, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid subtitle timestamp: %q", s)
	}

	secPart := fields[len(fields)-1]
	secPart = strings.Replace(secPart, ".", ",", 1)
	secFields := strings.SplitN(secPart, ",", 2)

	seconds, err := strconv.Atoi(secFields[0])
	if err != nil {
		return 0, fmt.Errorf("invalid subtitle timestamp: %q", s)
	}

	millis := 0
	if len(secFields) == 2 {
		msText := secFields[1]
		// "5" means 500ms, "50" means 500ms, "005" means 5ms
		for len(msText) < 3 {
			msText += "0"
		}
		millis, err = strconv.Atoi(msText[:3])
		if err != nil {
			return 0, fmt.Errorf("invalid subtitle timestamp: %q", s)
		}
	}

	total := float64(seconds) + float64(millis)/1000.0

	minutes, err := strconv.Atoi(fields[len(fields)-2])
	if err != nil {
		return 0, fmt.Errorf("invalid subtitle timestamp: %q", s)
	}
	total += float64(minutes) * 60

	if len(fields) == 3 {
		hours, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("invalid subtitle timestamp: %q", s)
		}
		total += float64(hours) * 3600
	}

	return total, nil
}

// WriteSRT renders a caption track as SubRip text, for sidecar export.
func WriteSRT(w io.Writer, track *models.CaptionTrack) error {
	bw := bufio.NewWriter(w)
	for i, cue := range track.Cues {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n",
			i+1, formatSRTTime(cue.StartTick), formatSRTTime(cue.EndTick), cue.Text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatSRTTime(ticks int64) string {
	if ticks < 0 {
		ticks = 0
	}
	ms := (ticks*1000 + models.TicksPerSecond/2) / models.TicksPerSecond
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
