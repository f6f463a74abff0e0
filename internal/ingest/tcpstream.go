package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"txguard/internal/config"
)

// StartTCPStream accepts one batch per connection. The client writes a CSV
// or JSON document and closes its write side; the server answers with the
// batch result, or {"error": ...}, as a single JSON line.
func StartTCPStream(ctx context.Context, cfg *config.Manager, eval Evaluator, logger *slog.Logger) (net.Addr, error) {
	current := cfg.Get().Ingest.TCP
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil, nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, eval, logger)
		}
	}()
	return ln.Addr(), nil
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, eval Evaluator, logger *slog.Logger) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	limit := cfg.Get().Batch.MaxBytes
	data, err := io.ReadAll(io.LimitReader(conn, limit+1))
	enc := json.NewEncoder(conn)
	if err != nil {
		if logger != nil {
			logger.Warn("tcp stream read error", "remote", conn.RemoteAddr().String(), "err", err)
		}
		_ = enc.Encode(map[string]string{"error": err.Error()})
		return
	}
	if int64(len(data)) > limit {
		// Drain briefly so the reply is not lost to a reset on close.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _ = io.Copy(io.Discard, conn)
		_ = enc.Encode(map[string]string{"error": ErrPayloadTooLarge.Error()})
		return
	}
	records, err := ParseBatch(data)
	if err == nil {
		res, evalErr := eval.EvaluateRecords(ctx, SourceTCP, records)
		if evalErr == nil {
			_ = enc.Encode(res)
			return
		}
		err = evalErr
	}
	if logger != nil {
		logger.Warn("tcp stream batch rejected", "remote", conn.RemoteAddr().String(), "err", err)
	}
	_ = enc.Encode(map[string]string{"error": err.Error()})
}
