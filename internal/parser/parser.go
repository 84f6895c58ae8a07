// Package parser turns the P1 logger byte stream into decoded telegrams.
package parser

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-p1/internal/config"
	"github.com/resident-x/go-p1/internal/domain"
	"github.com/resident-x/go-p1/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sigurn/crc16"
)

// Stats counts decoder outcomes since the parser was created.
type Stats struct {
	Frames       int64 `json:"frames"`
	Telegrams    int64 `json:"telegrams"`
	DeviceErrors int64 `json:"device_errors"`
	SyncErrors   int64 `json:"sync_errors"`
	CRCErrors    int64 `json:"crc_errors"`
	Discarded    int64 `json:"discarded_bytes"`
}

// Parser implements domain.FrameDecoder for the 60-byte P1 telegram.
//
// Push keeps a scan buffer and must be driven by one goroutine. Decode and
// DecodeBytes are pure and safe for concurrent use.
type Parser struct {
	scanner *protocol.FrameScanner
	crc     *protocol.CRCValidator
	logger  zerolog.Logger
	now     func() time.Time

	frames       atomic.Int64
	telegrams    atomic.Int64
	deviceErrors atomic.Int64
	syncErrors   atomic.Int64
	crcErrors    atomic.Int64
	discarded    atomic.Int64
}

// NewParser creates a new Parser using the configured CRC variant.
func NewParser(cfg *config.Config) (*Parser, error) {
	params, err := protocol.CRCParamsByName(cfg.Decoder.CRCVariant)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve crc variant: %w", err)
	}
	return NewParserWithCRC(params), nil
}

// NewParserWithCRC creates a parser with explicit CRC parameters.
func NewParserWithCRC(params crc16.Params) *Parser {
	logger := log.With().Str("component", "parser").Logger()

	return &Parser{
		scanner: protocol.NewFrameScanner(),
		crc:     protocol.NewCRCValidator(params),
		logger:  logger,
		now:     time.Now,
	}
}

// Push feeds stream bytes and returns every result that became available,
// in stream order.
func (p *Parser) Push(data []byte) []domain.Result {
	_, _ = p.scanner.Write(data)

	var results []domain.Result
	for {
		frame, err := p.scanner.Next()
		if errors.Is(err, protocol.ErrNeedMoreData) {
			return results
		}

		var syncErr *protocol.FrameSyncError
		if errors.As(err, &syncErr) {
			p.syncErrors.Add(1)
			p.discarded.Add(int64(syncErr.Discarded))
			p.logf("Frame sync: %v", syncErr)
			results = append(results, domain.Result{Err: syncErr})
			continue
		}

		telegram, err := p.Decode(frame)
		if err != nil {
			results = append(results, domain.Result{Err: err})
			continue
		}
		results = append(results, domain.Result{Telegram: telegram})
	}
}

// Decode verifies and decodes one frame. A CRC failure yields
// *protocol.CrcMismatchError and no telegram.
func (p *Parser) Decode(frame protocol.RawFrame) (*domain.Telegram, error) {
	p.frames.Add(1)
	p.logf("Frame: %s", frame.Hex())

	if err := p.crc.Validate(frame); err != nil {
		p.crcErrors.Add(1)
		p.logf("Dropping frame: %v", err)
		return nil, err
	}

	telegram := MapTelegram(protocol.DecodePacket(frame), p.now())
	if !telegram.OK() {
		p.deviceErrors.Add(1)
		p.logf("Device reported %s", telegram.ErrorCode)
		return telegram, nil
	}

	p.telegrams.Add(1)
	p.logf("Telegram at %s with %d measurements", telegram.Timestamp.Format(time.RFC3339), len(telegram.Measurements))
	return telegram, nil
}

// DecodeBytes decodes a buffer that must hold exactly one frame.
func (p *Parser) DecodeBytes(data []byte) (*domain.Telegram, error) {
	frame, err := protocol.ParseFrame(data)
	if err != nil {
		return nil, err
	}
	return p.Decode(frame)
}

// Buffered returns the number of stream bytes waiting for a complete frame.
func (p *Parser) Buffered() int {
	return p.scanner.Buffered()
}

// Reset drops buffered stream bytes, e.g. after the serial link was reopened.
func (p *Parser) Reset() {
	p.scanner.Reset()
}

// Stats returns decoder counters.
func (p *Parser) Stats() Stats {
	return Stats{
		Frames:       p.frames.Load(),
		Telegrams:    p.telegrams.Load(),
		DeviceErrors: p.deviceErrors.Load(),
		SyncErrors:   p.syncErrors.Load(),
		CRCErrors:    p.crcErrors.Load(),
		Discarded:    p.discarded.Load(),
	}
}

// CRCName returns the active CRC variant name.
func (p *Parser) CRCName() string {
	return p.crc.Name()
}

// SetCustomLogger sets a custom logger for the parser.
func (p *Parser) SetCustomLogger(logger *zerolog.Logger) {
	p.logger = *logger
}

// logf logs a message at debug level.
func (p *Parser) logf(format string, args ...interface{}) {
	p.logger.Debug().Msgf(format, args...)
}
