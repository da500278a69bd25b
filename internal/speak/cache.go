package speak

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ambiware-labs/voxa/internal/tts"
)

// maxCachedBytes caps the audio kept per phrase. Longer utterances are
// served but never cached.
const maxCachedBytes = 512 * 1024

type cachedPhrase struct {
	frames []tts.Frame
	bytes  int64
}

// phraseCache keeps recently synthesized short phrases so repeated
// prompts ("Sorry, I didn't catch that") skip the engine round trip.
type phraseCache struct {
	entries *lru.Cache[string, cachedPhrase]
}

func newPhraseCache(size int) (*phraseCache, error) {
	entries, err := lru.New[string, cachedPhrase](size)
	if err != nil {
		return nil, err
	}
	return &phraseCache{entries: entries}, nil
}

// phraseKey identifies one rendering of a phrase. Any change to voice,
// speed or model produces different audio and therefore a different key.
func phraseKey(req tts.SpeakRequest) string {
	var b strings.Builder
	b.WriteString(req.Voice)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(req.Speed, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(req.Model)
	b.WriteByte('|')
	b.WriteString(req.Text)
	return b.String()
}

// get returns copies of the cached frames so callers can stamp their own
// session id and sequence without touching the stored audio.
func (c *phraseCache) get(key string) ([]tts.Frame, bool) {
	phrase, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	frames := make([]tts.Frame, len(phrase.frames))
	copy(frames, phrase.frames)
	return frames, true
}

func (c *phraseCache) put(key string, frames []tts.Frame) {
	var total int64
	for _, f := range frames {
		total += int64(len(f.PCM))
	}
	if len(frames) == 0 || total > maxCachedBytes {
		return
	}
	c.entries.Add(key, cachedPhrase{frames: frames, bytes: total})
}

func (c *phraseCache) len() int {
	return c.entries.Len()
}
