package moderation

import "context"

// Likelihood is an ordinal safety level for one moderation axis.
// Values are ordered from least to most likely so they can be compared
// against a threshold rather than matched by string equality.
type Likelihood int

const (
	LikelihoodUnknown Likelihood = iota
	VeryUnlikely
	Unlikely
	Possible
	Likely
	VeryLikely
)

// unsafeThreshold is the lowest likelihood that rejects an upload.
const unsafeThreshold = Likely

var likelihoodNames = map[string]Likelihood{
	"UNKNOWN":       LikelihoodUnknown,
	"VERY_UNLIKELY": VeryUnlikely,
	"UNLIKELY":      Unlikely,
	"POSSIBLE":      Possible,
	"LIKELY":        Likely,
	"VERY_LIKELY":   VeryLikely,
}

// ParseLikelihood maps a SafeSearch likelihood string to its ordinal value.
// Unlisted intensities map to LikelihoodUnknown.
func ParseLikelihood(name string) Likelihood {
	if level, ok := likelihoodNames[name]; ok {
		return level
	}
	return LikelihoodUnknown
}

func (l Likelihood) String() string {
	switch l {
	case VeryUnlikely:
		return "VERY_UNLIKELY"
	case Unlikely:
		return "UNLIKELY"
	case Possible:
		return "POSSIBLE"
	case Likely:
		return "LIKELY"
	case VeryLikely:
		return "VERY_LIKELY"
	default:
		return "UNKNOWN"
	}
}

// Result carries the three independently-scored moderation axes of an image.
type Result struct {
	Adult    Likelihood
	Violence Likelihood
	Racy     Likelihood
}

// Unsafe reports whether any axis reaches the rejection threshold.
func (r Result) Unsafe() bool {
	return r.Adult >= unsafeThreshold ||
		r.Violence >= unsafeThreshold ||
		r.Racy >= unsafeThreshold
}

// Analyzer classifies image bytes for content safety.
type Analyzer interface {
	Classify(ctx context.Context, image []byte) (Result, error)
}
