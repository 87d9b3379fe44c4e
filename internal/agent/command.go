package agent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Joguig/client-event-reporter/internal/stats"
)

// Relay command names.
const (
	CommandCounter = "counter"
	CommandTimer   = "timer"
	CommandGauge   = "gauge"
	CommandLine    = "line"
	CommandPrefix  = "prefix"
)

// ErrNoCommand is returned by ParseCommand for blank lines and comments.
var ErrNoCommand = errors.New("no command")

// Command is one parsed relay instruction.
type Command struct {
	Name         string
	Key          string
	Count        int64
	Milliseconds float64
	SampleRate   float64
	Text         string
}

// ParseCommand parses a single relay line:
//
//	counter <key> [count] [sample_rate]
//	timer <key> <milliseconds> [sample_rate]
//	gauge <key>
//	line <text...>
//	prefix <namespace>
//
// Blank lines and lines starting with # return ErrNoCommand.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{}, ErrNoCommand
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	cmd := Command{
		Name:       name,
		Count:      stats.DefaultCount,
		SampleRate: stats.DefaultSampleRate,
	}

	switch name {
	case CommandCounter:
		if len(args) < 1 || len(args) > 3 {
			return Command{}, errors.New("usage: counter <key> [count] [sample_rate]")
		}

		cmd.Key = args[0]

		if len(args) > 1 {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return Command{}, fmt.Errorf("parsing count %q: %w", args[1], err)
			}

			cmd.Count = n
		}

		if len(args) > 2 {
			rate, err := parseSampleRate(args[2])
			if err != nil {
				return Command{}, err
			}

			cmd.SampleRate = rate
		}
	case CommandTimer:
		if len(args) < 2 || len(args) > 3 {
			return Command{}, errors.New("usage: timer <key> <milliseconds> [sample_rate]")
		}

		cmd.Key = args[0]

		ms, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("parsing milliseconds %q: %w", args[1], err)
		}

		cmd.Milliseconds = ms

		if len(args) > 2 {
			rate, err := parseSampleRate(args[2])
			if err != nil {
				return Command{}, err
			}

			cmd.SampleRate = rate
		}
	case CommandGauge:
		if len(args) != 1 {
			return Command{}, errors.New("usage: gauge <key>")
		}

		cmd.Key = args[0]
	case CommandPrefix:
		if len(args) != 1 {
			return Command{}, errors.New("usage: prefix <namespace>")
		}

		cmd.Key = args[0]
	case CommandLine:
		text := strings.TrimSpace(strings.TrimPrefix(line, CommandLine))
		if text == "" {
			return Command{}, errors.New("usage: line <text...>")
		}

		cmd.Text = text
	default:
		return Command{}, fmt.Errorf("unknown command %q", name)
	}

	return cmd, nil
}

// Apply reports cmd through client.
func (c Command) Apply(client *stats.Client) error {
	switch c.Name {
	case CommandCounter:
		client.LogCounter(c.Key, stats.WithCount(c.Count), stats.WithSampleRate(c.SampleRate))
	case CommandTimer:
		client.LogTimer(c.Key, c.Milliseconds, stats.WithSampleRate(c.SampleRate))
	case CommandGauge:
		client.LogGauge(c.Key)
	case CommandLine:
		client.LogLine(c.Text)
	case CommandPrefix:
		return client.SetPrefix(c.Key)
	default:
		return fmt.Errorf("unknown command %q", c.Name)
	}

	return nil
}

func parseSampleRate(s string) (float64, error) {
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing sample rate %q: %w", s, err)
	}

	if rate <= 0 || rate > 1 {
		return 0, fmt.Errorf("sample rate %v out of range (0, 1]", rate)
	}

	return rate, nil
}
