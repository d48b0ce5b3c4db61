package history

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// DefaultChunkSize is the number of ticks per diff chunk.
const DefaultChunkSize = 100

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Chunk is a base snapshot plus per-tick diffs. A diff maps object id to
// the full new document, or to nil when the object was removed.
type Chunk struct {
	Room     string                               `json:"room"`
	BaseTime int64                                `json:"base_time"`
	Base     map[string]map[string]any            `json:"base"`
	Ticks    map[string]map[string]map[string]any `json:"ticks"`
}

// ChunkBase returns the first game time of the chunk holding gameTime.
func ChunkBase(gameTime int64, size int) int64 {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return gameTime - gameTime%int64(size)
}

func newChunk(room string, base int64, objects map[string]map[string]any) *Chunk {
	return &Chunk{
		Room:     room,
		BaseTime: base,
		Base:     maps.Clone(objects),
		Ticks:    make(map[string]map[string]map[string]any),
	}
}

// Diff returns the changes from prev to next.
func Diff(prev, next map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for id, doc := range next {
		if old, ok := prev[id]; !ok || !reflect.DeepEqual(old, doc) {
			out[id] = doc
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			out[id] = nil
		}
	}
	return out
}

func (c *Chunk) addTick(gameTime int64, diff map[string]map[string]any) {
	c.Ticks[strconv.FormatInt(gameTime, 10)] = diff
}

// Len is the number of ticks the chunk covers, base included.
func (c *Chunk) Len() int { return len(c.Ticks) + 1 }

// At rebuilds the room objects at gameTime.
func (c *Chunk) At(gameTime int64) (map[string]map[string]any, error) {
	if gameTime < c.BaseTime {
		return nil, fmt.Errorf("tick %d precedes chunk base %d", gameTime, c.BaseTime)
	}
	state := maps.Clone(c.Base)
	for t := c.BaseTime + 1; t <= gameTime; t++ {
		diff, ok := c.Ticks[strconv.FormatInt(t, 10)]
		if !ok {
			continue
		}
		for id, doc := range diff {
			if doc == nil {
				delete(state, id)
			} else {
				state[id] = doc
			}
		}
	}
	return state, nil
}

// Encode serializes and compresses the chunk.
func (c *Chunk) Encode() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// DecodeChunk reverses Encode.
func DecodeChunk(data []byte) (*Chunk, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk: %w", err)
	}
	var c Chunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	return &c, nil
}
