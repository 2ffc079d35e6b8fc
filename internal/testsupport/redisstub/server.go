// Package redisstub runs a minimal in-process Redis server implementing
// the handful of commands the relay service issues, so tests can exercise
// Redis-backed components without an external daemon.
package redisstub

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	strings  map[string]*stringEntry
	lists    map[string][]string
	closed   chan struct{}
}

type stringEntry struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		strings:  make(map[string]*stringEntry),
		lists:    make(map[string][]string),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			_ = writeError(writer, "ERR wrong number of arguments")
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "PING":
			_ = writeSimpleString(writer, "PONG")
		case "HELLO":
			_ = writeError(writer, "ERR unknown command 'hello'")
		case "CLIENT", "SELECT":
			_ = writeSimpleString(writer, "OK")
		case "AUTH":
			password := args[len(args)-1]
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				_ = writeSimpleString(writer, "OK")
			} else {
				_ = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		default:
			if !authenticated {
				_ = writeError(writer, "NOAUTH Authentication required.")
				continue
			}
			s.dispatch(writer, cmd, args)
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, cmd string, args []string) {
	switch cmd {
	case "GET":
		if len(args) != 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'get'")
			return
		}
		value, ok := s.get(args[1])
		if !ok {
			_ = writeBulkNil(writer)
			return
		}
		_ = writeBulkString(writer, strconv.FormatInt(value, 10))
	case "SET":
		if len(args) < 3 {
			_ = writeError(writer, "ERR wrong number of arguments for 'set'")
			return
		}
		value, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			_ = writeError(writer, "ERR value is not an integer")
			return
		}
		s.set(args[1], value)
		_ = writeSimpleString(writer, "OK")
	case "INCR":
		if len(args) != 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'incr'")
			return
		}
		_ = writeInteger(writer, s.incr(args[1]))
	case "EXPIRE":
		if len(args) != 3 {
			_ = writeError(writer, "ERR wrong number of arguments for 'expire'")
			return
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			_ = writeError(writer, "ERR invalid expire time")
			return
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		_ = writeInteger(writer, 1)
	case "TTL":
		if len(args) != 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'ttl'")
			return
		}
		_ = writeInteger(writer, s.ttl(args[1]))
	case "DEL":
		if len(args) < 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'del'")
			return
		}
		_ = writeInteger(writer, s.del(args[1:]))
	case "RPUSH":
		if len(args) < 3 {
			_ = writeError(writer, "ERR wrong number of arguments for 'rpush'")
			return
		}
		_ = writeInteger(writer, s.rpush(args[1], args[2:]))
	case "LTRIM":
		if len(args) != 4 {
			_ = writeError(writer, "ERR wrong number of arguments for 'ltrim'")
			return
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			_ = writeError(writer, "ERR value is not an integer")
			return
		}
		s.ltrim(args[1], start, stop)
		_ = writeSimpleString(writer, "OK")
	case "LRANGE":
		if len(args) != 4 {
			_ = writeError(writer, "ERR wrong number of arguments for 'lrange'")
			return
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			_ = writeError(writer, "ERR value is not an integer")
			return
		}
		items := s.lrange(args[1], start, stop)
		_ = writeStringArray(writer, items)
	default:
		_ = writeError(writer, "ERR unsupported command")
	}
}

func (s *Server) get(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.strings[key]
	if entry == nil || s.expiredLocked(key, entry) {
		return 0, false
	}
	return entry.value, true
}

func (s *Server) set(key string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = &stringEntry{value: value}
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.strings[key]
	if entry == nil || s.expiredLocked(key, entry) {
		entry = &stringEntry{}
		s.strings[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.strings[key]
	if entry == nil {
		entry = &stringEntry{}
		s.strings[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.strings[key]
	if entry == nil {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.strings, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.strings[key]; ok {
			delete(s.strings, key)
			removed++
		}
		if _, ok := s.lists[key]; ok {
			delete(s.lists, key)
			removed++
		}
	}
	return removed
}

func (s *Server) rpush(key string, values []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
	return int64(len(s.lists[key]))
}

func (s *Server) ltrim(key string, start, stop int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	first, last := resolveRange(len(list), start, stop)
	if first > last {
		delete(s.lists, key)
		return
	}
	s.lists[key] = append([]string(nil), list[first:last+1]...)
}

func (s *Server) lrange(key string, start, stop int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	first, last := resolveRange(len(list), start, stop)
	if first > last {
		return nil
	}
	return append([]string(nil), list[first:last+1]...)
}

func (s *Server) expiredLocked(key string, entry *stringEntry) bool {
	if entry.expiry.IsZero() || time.Now().Before(entry.expiry) {
		return false
	}
	delete(s.strings, key)
	return true
}

func resolveRange(length, start, stop int) (int, int) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	for read := 0; read < len(buf); {
		n, err := r.Read(buf[read:])
		if err != nil {
			return "", err
		}
		read += n
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeStringArray(w *bufio.Writer, values []string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
