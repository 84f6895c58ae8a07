// Command p1-decode decodes hex encoded P1 logger frames, one per line, and
// prints each telegram as a JSON line. Every accepted telegram is checked
// against the previous one by the sanity validator.
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/parser"
	"github.com/resident-x/go-p1/internal/protocol"
	"github.com/resident-x/go-p1/internal/validation"
	"github.com/rs/zerolog"
)

// Output is one printed line.
type Output struct {
	Line       int                    `json:"line"`
	Telegram   map[string]interface{} `json:"telegram,omitempty"`
	Validation *ValidationOutput      `json:"validation,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// ValidationOutput summarizes a validation result.
type ValidationOutput struct {
	Valid      bool     `json:"valid"`
	Confidence float64  `json:"confidence"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Summary counts the outcome of a run.
type Summary struct {
	Frames       int
	Telegrams    int
	DeviceErrors int
	Failed       int
	Insane       int
}

// Decoder decodes frames and keeps the previous telegram for validation.
type Decoder struct {
	parser    *parser.Parser
	validator *validation.SanityValidator
	previous  *domain.Telegram
}

// NewDecoder creates a decoder for the given CRC variant and validation level.
func NewDecoder(crcVariant, level string) (*Decoder, error) {
	params, err := protocol.CRCParamsByName(crcVariant)
	if err != nil {
		return nil, err
	}
	validationLevel, err := validation.ParseValidationLevel(level)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		parser:    parser.NewParserWithCRC(params),
		validator: validation.NewSanityValidator(validationLevel, zerolog.Nop()),
	}, nil
}

// DecodeLine decodes one hex line. Whitespace and colons between bytes are
// ignored.
func (d *Decoder) DecodeLine(line string) Output {
	cleaned := strings.NewReplacer(" ", "", "\t", "", ":", "").Replace(line)

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return Output{Error: fmt.Sprintf("invalid hex: %v", err)}
	}

	telegram, err := d.parser.DecodeBytes(data)
	if err != nil {
		return Output{Error: err.Error()}
	}

	out := Output{Telegram: telegram.Fields()}
	if !telegram.OK() {
		return out
	}

	result := d.validator.Validate(telegram, d.previous)
	out.Validation = &ValidationOutput{
		Valid:      result.Valid,
		Confidence: result.Confidence,
	}
	for _, e := range result.Errors {
		out.Validation.Errors = append(out.Validation.Errors, e.Error())
	}
	for _, w := range result.Warnings {
		out.Validation.Warnings = append(out.Validation.Warnings, w.Error())
	}
	if !result.HasCriticalErrors() {
		d.previous = telegram
	}
	return out
}

// Run decodes every non-empty line of r that is not a # comment.
func (d *Decoder) Run(r io.Reader, w io.Writer) (Summary, error) {
	var summary Summary
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		summary.Frames++
		out := d.DecodeLine(line)
		out.Line = lineNo

		switch {
		case out.Error != "":
			summary.Failed++
		case out.Validation == nil:
			summary.DeviceErrors++
		case !out.Validation.Valid:
			summary.Insane++
		default:
			summary.Telegrams++
		}

		if err := enc.Encode(out); err != nil {
			return summary, fmt.Errorf("write output: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read input: %w", err)
	}
	return summary, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("p1-decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "Read frames from this file instead of stdin")
	crcVariant := fs.String("crc", "modbus", "CRC16 variant of the logger")
	level := fs.String("level", "standard", "Validation level: basic, standard or strict")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	decoder, err := NewDecoder(*crcVariant, *level)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	input := stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer f.Close()
		input = f
	}

	summary, err := decoder.Run(input, stdout)
	fmt.Fprintf(stderr, "%d frames: %d telegrams, %d device errors, %d implausible, %d failed\n",
		summary.Frames, summary.Telegrams, summary.DeviceErrors, summary.Insane, summary.Failed)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if summary.Failed > 0 {
		return 1
	}
	return 0
}
