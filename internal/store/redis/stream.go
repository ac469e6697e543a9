package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const payloadField = "data"

// MessageTransport carries JSON messages over named streams and keeps
// consumer checkpoints next to them.
type MessageTransport interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
	// ReadJSON blocks until a message after lastID exists, decodes it into
	// dst and returns its id.
	ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error)
	LoadStreamCheckpoint(ctx context.Context, key string) (string, error)
	PersistStreamCheckpoint(ctx context.Context, key, offset string) error
	Close() error
}

// Stream is the Redis Streams transport.
type Stream struct {
	client *redis.Client
	maxLen int64
}

var _ MessageTransport = (*Stream)(nil)

type StreamOption func(*Stream)

// WithMaxLen caps every stream at roughly n entries. Zero keeps everything.
func WithMaxLen(n int64) StreamOption {
	return func(s *Stream) { s.maxLen = n }
}

func NewStream(url string, opts ...StreamOption) (*Stream, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := &Stream{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream message: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: payload},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (s *Stream) ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error) {
	if err := validateStreamOffset(lastID); err != nil {
		return "", err
	}
	if strings.TrimSpace(lastID) == "" {
		lastID = "0"
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, strings.TrimSpace(lastID)},
		Count:   1,
		Block:   0,
	}).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("xread %s: %w", stream, err)
	}
	for _, st := range res {
		for _, msg := range st.Messages {
			raw, err := streamPayload(msg.Values[payloadField])
			if err != nil {
				return "", fmt.Errorf("message %s: %w", msg.ID, err)
			}
			if err := json.Unmarshal(raw, dst); err != nil {
				return "", fmt.Errorf("decode message %s: %w", msg.ID, err)
			}
			return msg.ID, nil
		}
	}
	return "", fmt.Errorf("xread %s: empty result", stream)
}

func (s *Stream) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	return v, nil
}

func (s *Stream) PersistStreamCheckpoint(ctx context.Context, key, offset string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(offset); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, strings.TrimSpace(offset), 0).Err(); err != nil {
		return fmt.Errorf("persist checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}

// InMemoryStream is a process-local MessageTransport for tests and
// single-node deployments without Redis.
type InMemoryStream struct {
	mu          sync.Mutex
	streams     map[string][]inMemoryMessage
	checkpoints map[string]string
	wake        chan struct{}
}

type inMemoryMessage struct {
	id      int64
	payload []byte
}

var _ MessageTransport = (*InMemoryStream)(nil)

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		streams:     make(map[string][]inMemoryMessage),
		checkpoints: make(map[string]string),
		wake:        make(chan struct{}),
	}
}

func (s *InMemoryStream) PublishJSON(_ context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.streams[stream]
	id := int64(1)
	if n := len(msgs); n > 0 {
		id = msgs[n-1].id + 1
	}
	s.streams[stream] = append(msgs, inMemoryMessage{id: id, payload: payload})

	close(s.wake)
	s.wake = make(chan struct{})
	return formatStreamID(id), nil
}

func (s *InMemoryStream) ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error) {
	after, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		s.mu.Lock()
		for _, msg := range s.streams[stream] {
			if msg.id > after {
				s.mu.Unlock()
				if err := json.Unmarshal(msg.payload, dst); err != nil {
					return "", fmt.Errorf("decode message %d: %w", msg.id, err)
				}
				return formatStreamID(msg.id), nil
			}
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wake:
		}
	}
}

func (s *InMemoryStream) LoadStreamCheckpoint(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[key], nil
}

func (s *InMemoryStream) PersistStreamCheckpoint(_ context.Context, key, offset string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(offset); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = strings.TrimSpace(offset)
	return nil
}

// Close drops every stream and checkpoint.
func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]inMemoryMessage)
	s.checkpoints = make(map[string]string)
	return nil
}

func formatStreamID(id int64) string { return strconv.FormatInt(id, 10) + "-0" }

// parseStreamOffset returns the millisecond/sequence part of a stream id.
// Empty means the beginning and negative values clamp to zero.
func parseStreamOffset(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, nil
		}
		return n, nil
	}
	head, _, found := strings.Cut(s, "-")
	if !found || head == "" {
		return 0, fmt.Errorf("invalid stream offset %q", raw)
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q: %w", raw, err)
	}
	return n, nil
}

// validateStreamOffset accepts "", "N" and "N-M" with non-negative parts.
func validateStreamOffset(raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	head, tail, found := strings.Cut(s, "-")
	if _, err := strconv.ParseUint(head, 10, 64); err != nil {
		return fmt.Errorf("invalid stream offset %q", raw)
	}
	if found {
		if _, err := strconv.ParseUint(tail, 10, 64); err != nil {
			return fmt.Errorf("invalid stream offset %q", raw)
		}
	}
	return nil
}

// streamPayload normalizes a stream field value to bytes.
func streamPayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("stream payload type %T not supported", v)
	}
}
