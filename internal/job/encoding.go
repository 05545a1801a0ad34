package job

import "strings"

// Encoding is one selectable representation of a media source.
type Encoding struct {
	ID           string `json:"id"`
	QualityLabel string `json:"quality_label,omitempty"`
	Container    string `json:"container,omitempty"`
	HasVideo     bool   `json:"has_video"`
	HasAudio     bool   `json:"has_audio"`
	ApproxBytes  int64  `json:"approx_bytes,omitempty"`
}

// SelfContained reports whether the encoding can be delivered without a merge.
func (e Encoding) SelfContained() bool {
	return e.HasAudio
}

// Muxed reports whether the encoding carries both audio and video.
func (e Encoding) Muxed() bool {
	return e.HasAudio && e.HasVideo
}

// AudioOnly reports whether the encoding carries audio and no video.
func (e Encoding) AudioOnly() bool {
	return e.HasAudio && !e.HasVideo
}

// Extension returns the file extension for the encoding's container.
func (e Encoding) Extension() string {
	container := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e.Container)), ".")
	if container == "" {
		return "bin"
	}
	return container
}

// EncodingID is an optional encoding selection. The zero value is unset,
// which is distinct from an explicitly chosen id.
type EncodingID struct {
	Value string
	Set   bool
}

// SomeEncoding returns a set EncodingID; blank ids stay unset.
func SomeEncoding(id string) EncodingID {
	id = strings.TrimSpace(id)
	if id == "" {
		return EncodingID{}
	}
	return EncodingID{Value: id, Set: true}
}

func (e EncodingID) String() string {
	if !e.Set {
		return "<unset>"
	}
	return e.Value
}

// SourceInfo is the resolved description of a source reference.
type SourceInfo struct {
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	Thumbnail       string     `json:"thumbnail,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Encodings       []Encoding `json:"encodings"`
}

// Clone returns a deep copy so snapshots never alias item state.
func (i *SourceInfo) Clone() *SourceInfo {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Encodings = append([]Encoding(nil), i.Encodings...)
	return &cp
}

// Encoding looks up an encoding by id.
func (i *SourceInfo) Encoding(id string) (Encoding, bool) {
	if i == nil {
		return Encoding{}, false
	}
	for _, enc := range i.Encodings {
		if enc.ID == id {
			return enc, true
		}
	}
	return Encoding{}, false
}

// DefaultEncoding picks the encoding used when the caller did not choose one:
// the preferred id when listed, else the first muxed encoding, else the
// first listed encoding.
func (i *SourceInfo) DefaultEncoding(preferred EncodingID) (Encoding, bool) {
	if i == nil || len(i.Encodings) == 0 {
		return Encoding{}, false
	}
	if preferred.Set {
		if enc, ok := i.Encoding(preferred.Value); ok {
			return enc, true
		}
	}
	for _, enc := range i.Encodings {
		if enc.Muxed() {
			return enc, true
		}
	}
	return i.Encodings[0], true
}

// AudioCounterpart picks the audio-only encoding with the largest approximate
// size; the first listed wins ties.
func (i *SourceInfo) AudioCounterpart() (Encoding, bool) {
	if i == nil {
		return Encoding{}, false
	}
	var (
		best  Encoding
		found bool
	)
	for _, enc := range i.Encodings {
		if !enc.AudioOnly() {
			continue
		}
		if !found || enc.ApproxBytes > best.ApproxBytes {
			best = enc
			found = true
		}
	}
	return best, found
}
