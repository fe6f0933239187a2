package mailer

import (
	"bufio"
	"encoding/base64"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
)

// smtpServer is a minimal ESMTP relay for exercising the client end to end.
type smtpServer struct {
	ln       net.Listener
	password string

	mu       sync.Mutex
	users    []string
	commands []string
	data     []string
}

func startSMTPServer(t *testing.T, password string) *smtpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &smtpServer{ln: ln, password: password}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *smtpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			_, _ = io.WriteString(conn, l+"\r\n")
		}
	}

	reply("220 localhost ESMTP ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		s.mu.Lock()
		if verb != "AUTH" {
			s.commands = append(s.commands, verb)
		}
		s.mu.Unlock()

		switch verb {
		case "EHLO":
			reply("250-localhost", "250-AUTH PLAIN LOGIN", "250 8BITMIME")
		case "HELO":
			reply("250 localhost")
		case "AUTH":
			fields := strings.Fields(line)
			if len(fields) < 3 {
				reply("501 5.5.4 initial response required")
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(fields[2])
			parts := strings.Split(string(raw), "\x00")
			if err != nil || len(parts) != 3 || parts[2] != s.password {
				reply("535 5.7.8 Authentication credentials invalid")
				continue
			}
			s.mu.Lock()
			s.users = append(s.users, parts[1])
			s.mu.Unlock()
			reply("235 2.7.0 Authentication successful")
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(l, "\r\n") == "." {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = append(s.data, body.String())
			s.mu.Unlock()
			reply("250 2.0.0 queued")
		case "QUIT":
			reply("221 2.0.0 bye")
			return
		default:
			reply("250 2.0.0 OK")
		}
	}
}

func (s *smtpServer) snapshot() (users, commands, data []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...), append([]string(nil), s.commands...), append([]string(nil), s.data...)
}
