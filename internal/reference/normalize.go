// Package reference turns user-supplied paper references into the URL the
// capture session should open.
package reference

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	PrimaryHost = "arxiv.org"
	MirrorHost  = "ar5iv.org"

	// recentGraceDays is how far into the month after publication a paper
	// still counts as recent.
	recentGraceDays = 5
)

var ErrInvalidReferenceFormat = errors.New("invalid reference format")

// SupportedFormats is shown to operators when a reference is rejected.
const SupportedFormats = `supported reference formats:
  https://arxiv.org/abs/YYMM.NNNNN
  https://arxiv.org/html/YYMM.NNNNN
  https://arxiv.org/pdf/YYMM.NNNNN
  https://ar5iv.org/abs/YYMM.NNNNN
  https://ar5iv.labs.arxiv.org/html/YYMM.NNNNN
  arxiv.org/abs/YYMM.NNNNN (scheme optional)
  arxiv:YYMM.NNNNN`

// Variant says which rendering of the paper the URL points at.
type Variant string

const (
	VariantNative Variant = "native"
	VariantMirror Variant = "mirror"
)

// Resolved is the canonical form of a reference for one run.
type Resolved struct {
	URL     string  `json:"url"`
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Variant Variant `json:"variant"`
}

var (
	compactPattern = regexp.MustCompile(`(?i)^arxiv:(\d{2})(\d{2})\.(\d{4,5}(?:v\d+)?)$`)
	urlPattern     = regexp.MustCompile(`(?i)^https?://(?:www\.)?(arxiv\.org|ar5iv\.labs\.arxiv\.org|ar5iv\.org)/(abs|html|pdf)/(\d{2})(\d{2})\.(\d{4,5}(?:v\d+)?)`)
)

type parsed struct {
	host  string
	kind  string
	year  int
	month time.Month
	id    string
	raw   string
}

// Normalize resolves ref against today's date. Papers published in the
// current month, or in the previous month when today is within the first
// five days, are read natively from the primary host (abstract pages are
// switched to the HTML rendering). Older papers are read from the mirror.
func Normalize(ref string, today time.Time) (Resolved, error) {
	p, err := parse(ref)
	if err != nil {
		return Resolved{}, err
	}
	if IsRecent(p.year, p.month, today) {
		kind := p.kind
		if kind == "abs" {
			kind = "html"
		}
		return Resolved{
			URL:     fmt.Sprintf("https://%s/%s/%s", PrimaryHost, kind, p.id),
			ID:      p.id,
			Kind:    kind,
			Variant: VariantNative,
		}, nil
	}
	if isMirror(p.host) {
		return Resolved{URL: p.raw, ID: p.id, Kind: p.kind, Variant: VariantMirror}, nil
	}
	return Resolved{
		URL:     fmt.Sprintf("https://%s/%s/%s", MirrorHost, p.kind, p.id),
		ID:      p.id,
		Kind:    p.kind,
		Variant: VariantMirror,
	}, nil
}

// IsRecent reports whether today falls in [first of the paper's month,
// fifth of the following month]. December rolls over into January of the
// next year.
func IsRecent(year int, month time.Month, today time.Time) bool {
	if today.Year() == year && today.Month() == month {
		return true
	}
	nextMonth := month%12 + 1
	nextYear := year
	if month == time.December {
		nextYear++
	}
	return today.Year() == nextYear && today.Month() == nextMonth && today.Day() <= recentGraceDays
}

func parse(ref string) (parsed, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return parsed{}, fmt.Errorf("%w: empty reference", ErrInvalidReferenceFormat)
	}

	var (
		host, kind, yy, mm, id, raw string
	)
	if !strings.Contains(ref, "/") {
		compact := strings.ReplaceAll(ref, " ", "")
		m := compactPattern.FindStringSubmatch(compact)
		if m == nil {
			return parsed{}, fmt.Errorf("%w: %q", ErrInvalidReferenceFormat, ref)
		}
		host, kind, yy, mm, id = PrimaryHost, "abs", m[1], m[2], m[1]+m[2]+"."+m[3]
	} else {
		if !strings.HasPrefix(strings.ToLower(ref), "http") {
			ref = "https://" + ref
		}
		m := urlPattern.FindStringSubmatch(ref)
		if m == nil {
			return parsed{}, fmt.Errorf("%w: %q", ErrInvalidReferenceFormat, ref)
		}
		host, kind, yy, mm, id = strings.ToLower(m[1]), strings.ToLower(m[2]), m[3], m[4], m[3]+m[4]+"."+m[5]
		raw = m[0]
	}

	year, _ := strconv.Atoi(yy)
	month, _ := strconv.Atoi(mm)
	if month < 1 || month > 12 {
		return parsed{}, fmt.Errorf("%w: month %02d out of range in %q", ErrInvalidReferenceFormat, month, ref)
	}
	return parsed{
		host:  host,
		kind:  kind,
		year:  2000 + year,
		month: time.Month(month),
		id:    id,
		raw:   raw,
	}, nil
}

func isMirror(host string) bool {
	return strings.HasPrefix(host, "ar5iv")
}
