package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

const (
	sourceSyslogUDP = "syslog_udp"
	sourceSyslogTCP = "syslog_tcp"
)

func StartSyslog(ctx context.Context, cfg *config.Manager, out chan<- model.RawLine, logger *slog.Logger) {
	current := cfg.Get().Ingest.Syslog
	if !current.Enabled {
		if logger != nil {
			logger.Info("syslog ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("syslog ingest enabled", "udp_addr", current.UDPAddr, "tcp_addr", current.TCPAddr)
	}
	if current.UDPAddr != "" {
		go listenUDP(ctx, current.UDPAddr, out, logger)
	}
	if current.TCPAddr != "" {
		go listenTCP(ctx, current.TCPAddr, out, logger)
	}
}

func listenUDP(ctx context.Context, addr string, out chan<- model.RawLine, logger *slog.Logger) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog udp listen error", "err", err)
		}
		return
	}
	defer conn.Close()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				if logger != nil {
					logger.Warn("syslog udp read error", "err", err)
				}
				continue
			}
			for _, line := range SplitDatagram(string(buf[:n])) {
				SendNonBlocking(ctx, out, model.RawLine{Text: line, Source: sourceSyslogUDP}, logger)
			}
		}
	}
}

func listenTCP(ctx context.Context, addr string, out chan<- model.RawLine, logger *slog.Logger) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog tcp listen error", "err", err)
		}
		return
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("syslog tcp accept error", "err", err)
			}
			continue
		}
		go handleTCPConn(ctx, conn, out, logger)
	}
}

func handleTCPConn(ctx context.Context, conn net.Conn, out chan<- model.RawLine, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		text := StripPriority(scanner.Text())
		if strings.TrimSpace(text) != "" {
			SendNonBlocking(ctx, out, model.RawLine{Text: text, Source: sourceSyslogTCP}, logger)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("syslog tcp scanner error", "err", err)
	}
}

// SplitDatagram returns the non-blank lines of a syslog datagram with their
// <PRI> prefixes removed.
func SplitDatagram(payload string) []string {
	var out []string
	for _, line := range strings.Split(payload, "\n") {
		line = StripPriority(strings.TrimRight(line, "\r"))
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// StripPriority removes a leading "<N>" syslog priority, and the RFC 5424
// version field that follows it, so the timestamp is the first token again.
func StripPriority(line string) string {
	if len(line) < 3 || line[0] != '<' {
		return line
	}
	end := strings.IndexByte(line, '>')
	if end < 2 || end > 4 {
		return line
	}
	for _, r := range line[1:end] {
		if r < '0' || r > '9' {
			return line
		}
	}
	return stripVersion(line[end+1:])
}

// stripVersion drops a 1-2 digit RFC 5424 VERSION token ("1 ") directly after the priority.
func stripVersion(rest string) string {
	sp := strings.IndexByte(rest, ' ')
	if sp < 1 || sp > 2 {
		return rest
	}
	for _, r := range rest[:sp] {
		if r < '0' || r > '9' {
			return rest
		}
	}
	return rest[sp+1:]
}
