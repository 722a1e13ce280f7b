package mrf

import (
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
)

func newExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	e, err := NewExtractor(opts...)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

// ============================================================
// Tokenizer Tests
// ============================================================

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"only delimiters", " ,.;", nil},
		{"words", "seeks, project!  search", []string{"seeks", "project", "search"}},
		{"url", "http://www.seeks-project.info/", []string{"http", "www", "seeks", "project", "info"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in, DefaultDelimiters)
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokensLowerCaseAndStopwords(t *testing.T) {
	e := newExtractor(t, WithStopwords(NewStopwordList("the")))

	got := e.Tokens("The Web")
	if !slices.Equal(got, []string{StopwordToken, "web"}) {
		t.Errorf("got %q", got)
	}
}

func TestTokensKeepsStopwordsForSingleTokenWindow(t *testing.T) {
	e := newExtractor(t, WithStopwords(NewStopwordList("the")), WithWindowLength(1), WithRadius(0, 1))

	got := e.Tokens("the web")
	if !slices.Equal(got, []string{"the", "web"}) {
		t.Errorf("got %q", got)
	}
}

// ============================================================
// Extractor Tests
// ============================================================

func TestNewExtractorInvalid(t *testing.T) {
	if _, err := NewExtractor(WithWindowLength(0)); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("window 0: got %v", err)
	}
	if _, err := NewExtractor(WithRadius(3, 1)); !errors.Is(err, ErrInvalidRadius) {
		t.Errorf("min > max: got %v", err)
	}
	if _, err := NewExtractor(WithRadius(-1, 1)); !errors.Is(err, ErrInvalidRadius) {
		t.Errorf("negative min: got %v", err)
	}
}

func TestExtractorAccessors(t *testing.T) {
	e := newExtractor(t)
	if e.WindowLength() != DefaultWindowLength {
		t.Errorf("WindowLength: got %d, want %d", e.WindowLength(), DefaultWindowLength)
	}
	if lo, hi := e.Radius(); lo != DefaultMinRadius || hi != DefaultMaxRadius {
		t.Errorf("Radius: got [%d, %d]", lo, hi)
	}
	if !e.LengthProtection() {
		t.Error("length protection should be on by default")
	}

	e = newExtractor(t, WithWindowLength(3), WithRadius(1, 2), WithLengthProtection(false))
	if e.WindowLength() != 3 {
		t.Errorf("WindowLength: got %d, want 3", e.WindowLength())
	}
	if lo, hi := e.Radius(); lo != 1 || hi != 2 {
		t.Errorf("Radius: got [%d, %d], want [1, 2]", lo, hi)
	}
	if e.LengthProtection() {
		t.Error("length protection should be off")
	}
}

func TestFeaturesTwoTokens(t *testing.T) {
	e := newExtractor(t)

	// "seeks", "project", and the unordered pair.
	got := e.Features("seeks project")
	if len(got) != 3 {
		t.Errorf("got %d features, want 3", len(got))
	}
	if !slices.IsSorted(got) {
		t.Error("features should be sorted")
	}
}

func TestFeaturesEmpty(t *testing.T) {
	e := newExtractor(t)
	if got := e.Features(" ,; "); len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestFeaturesSkipSingleCharacterToken(t *testing.T) {
	e := newExtractor(t)
	if got := e.Features("a"); len(got) != 0 {
		t.Errorf("single one-byte token should yield no feature, got %v", got)
	}
	if got := e.Features("ab"); len(got) != 1 {
		t.Errorf("got %d features, want 1", len(got))
	}
}

func TestFeaturesOrderFreeWithoutSkips(t *testing.T) {
	e := newExtractor(t)
	a := e.Features("seeks project")
	b := e.Features("project seeks")
	if !slices.Equal(a, b) {
		t.Errorf("two-token queries should not depend on order: %v vs %v", a, b)
	}
}

func TestFeaturesSkipChainsKeepOrder(t *testing.T) {
	e := newExtractor(t)
	a := e.Features("seeks web search")
	b := e.Features("search web seeks")

	if slices.Equal(a, b) {
		t.Error("chains with skips should depend on token order")
	}
	if _, common := Distance(a, b); common == 0 {
		t.Error("reordered queries should share their unordered chains")
	}
}

func TestFeaturesUnique(t *testing.T) {
	e := newExtractor(t)
	got := e.Features("seeks seeks seeks")
	if len(slices.Compact(slices.Clone(got))) != len(got) {
		t.Errorf("duplicate features in %v", got)
	}
}

func TestFeaturesRadiusRange(t *testing.T) {
	e := newExtractor(t, WithRadius(0, 0))

	// Only the full five-token chain reaches radius 0.
	got := e.Features("alpha beta gamma delta epsilon")
	if len(got) != 1 {
		t.Errorf("got %d features, want 1", len(got))
	}
}

// ============================================================
// Query Tests
// ============================================================

func TestCompileQuery(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"seeks project", []string{"seeks project"}},
		{"seeks || web search", []string{"seeks", "web search"}},
		{" a ||  || b||", []string{"a", "b"}},
		{"a | b", []string{"a | b"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := CompileQuery(tt.query); !slices.Equal(got, tt.want) {
			t.Errorf("CompileQuery(%q): got %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestQueryFeaturesUnionsAlternatives(t *testing.T) {
	e := newExtractor(t)

	want := append(e.Features("seeks project"), e.Features("web search")...)
	slices.Sort(want)
	want = slices.Compact(want)

	if got := e.QueryFeatures("seeks project || web search"); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := e.QueryFeatures("seeks project"); !slices.Equal(got, e.Features("seeks project")) {
		t.Error("a single alternative should match Features")
	}
}

func TestQueryFeaturesLengthProtection(t *testing.T) {
	words := strings.Fields("ta tb tc td te tf tg th ti tj tk tl tm tn to")
	long := strings.Join(words, " ")
	short := strings.Join(words[:MaxQueryTokens], " ")

	e := newExtractor(t)
	fullWindow := newExtractor(t, WithRadius(0, 0)).Features(long)

	got := e.QueryFeatures(long)
	if !slices.Equal(got, fullWindow) {
		t.Errorf("long query: got %d features, want the %d full-window chains", len(got), len(fullWindow))
	}
	// One full-window chain per start position with a complete window.
	if len(got) != len(words)-DefaultWindowLength+1 {
		t.Errorf("got %d features, want %d", len(got), len(words)-DefaultWindowLength+1)
	}
	if !slices.Equal(e.QueryFeatures(short), e.Features(short)) {
		t.Errorf("a %d-token query should not be cut", MaxQueryTokens)
	}

	off := newExtractor(t, WithLengthProtection(false))
	if !slices.Equal(off.QueryFeatures(long), off.Features(long)) {
		t.Error("disabled protection should keep every chain")
	}
	if len(off.QueryFeatures(long)) <= len(got) {
		t.Error("protection should reduce the number of features")
	}
}

// ============================================================
// Weighting Tests
// ============================================================

func TestWeightedFeaturesCountsOccurrences(t *testing.T) {
	e := newExtractor(t)

	got := e.WeightedFeatures("seeks project seeks")
	seeks := SingleFeature("seeks", DefaultDelimiters)
	if got[seeks] != 2 {
		t.Errorf("weight of seeks: got %f, want 2", got[seeks])
	}
	if len(got) != len(e.Features("seeks project seeks")) {
		t.Errorf("weighted and plain features disagree: %d vs %d",
			len(got), len(e.Features("seeks project seeks")))
	}
}

func TestTFIDF(t *testing.T) {
	bags := []map[uint32]float64{
		{1: 2, 2: 1},
		{1: 1, 3: 1},
		{1: 1},
	}
	TFIDF(bags)

	// Feature 1 is in every bag: idf 0.
	for i, bag := range bags {
		if bag[1] != 0 {
			t.Errorf("bag %d: shared feature weight %f, want 0", i, bag[1])
		}
	}
	if math.Abs(bags[0][2]-1) > 1e-12 || math.Abs(bags[1][3]-1) > 1e-12 {
		t.Errorf("distinct features should carry the whole bag: %v, %v", bags[0], bags[1])
	}
	// Sum 0: left as is.
	if len(bags[2]) != 1 || bags[2][1] != 0 {
		t.Errorf("zero bag: got %v", bags[2])
	}
}

func TestTFIDFWeightsRareFeatures(t *testing.T) {
	bags := []map[uint32]float64{
		{1: 1, 2: 1},
		{1: 1},
		{3: 1},
	}
	TFIDF(bags)

	// idf(1) = ln(3/2), idf(2) = ln(3).
	want := math.Log(3) / (math.Log(3) + math.Log(1.5))
	if math.Abs(bags[0][2]-want) > 1e-12 {
		t.Errorf("rare feature weight: got %f, want %f", bags[0][2], want)
	}
	sum := bags[0][1] + bags[0][2]
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("bag should sum to 1, got %f", sum)
	}
}

func TestSingleFeatureIsOrdered(t *testing.T) {
	if SingleFeature("seeks project", DefaultDelimiters) == SingleFeature("project seeks", DefaultDelimiters) {
		t.Error("SingleFeature should depend on token order")
	}
	if SingleFeature("", DefaultDelimiters) != 0 {
		t.Error("empty input should hash to 0")
	}
}

func TestChainHashSkipMarker(t *testing.T) {
	c := newChain("seeks", 2).with(skipToken, 2)
	c.skip = true
	if c.String() != "seeks <skip>" {
		t.Errorf("String: got %q", c.String())
	}
	var skip uint32 = skipTokenHash
	want := hashToken("seeks") + skip*3
	if c.hash() != want {
		t.Errorf("hash: got %d, want %d", c.hash(), want)
	}
}

// ============================================================
// Similarity Tests
// ============================================================

func TestDistance(t *testing.T) {
	tests := []struct {
		name       string
		a, b       []uint32
		wantDist   float64
		wantCommon int
	}{
		{"both empty", nil, nil, 0, 0},
		{"one empty", []uint32{1, 2}, nil, 2, 0},
		{"identical", []uint32{1, 2, 3}, []uint32{1, 2, 3}, 0, 3},
		{"overlap", []uint32{1, 3, 5}, []uint32{2, 3, 5, 8}, 3, 2},
		{"disjoint", []uint32{1}, []uint32{2}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, common := Distance(tt.a, tt.b)
			if dist != tt.wantDist || common != tt.wantCommon {
				t.Errorf("got (%f, %d), want (%f, %d)", dist, common, tt.wantDist, tt.wantCommon)
			}
		})
	}
}

func TestRadiance(t *testing.T) {
	if got := Radiance([]uint32{1, 2, 3}, []uint32{1, 2, 3}); math.Abs(got-9/Epsilon) > 1e-3 {
		t.Errorf("identical: got %f", got)
	}
	if got := Radiance([]uint32{1}, []uint32{2}); got != 0 {
		t.Errorf("disjoint: got %f", got)
	}
	if got := Radiance([]uint32{1, 3, 5}, []uint32{2, 3, 5, 8}); math.Abs(got-4/(3+Epsilon)) > 1e-9 {
		t.Errorf("overlap: got %f", got)
	}
}

func TestExtractorRadianceRanksCloserQueries(t *testing.T) {
	e := newExtractor(t)
	near := e.Radiance("seeks project search engine", "seeks project web search")
	far := e.Radiance("seeks project search engine", "weather forecast tomorrow")
	if near <= far {
		t.Errorf("near %f should exceed far %f", near, far)
	}
}

// ============================================================
// Stop Word Tests
// ============================================================

func TestParseStopwords(t *testing.T) {
	l, err := ParseStopwords(strings.NewReader("# english\nThe\n\n a \nof\n"))
	if err != nil {
		t.Fatalf("ParseStopwords: %v", err)
	}
	if l.Len() != 3 {
		t.Errorf("Len: got %d, want 3", l.Len())
	}
	for _, w := range []string{"the", "a", "of"} {
		if !l.Has(w) {
			t.Errorf("missing %q", w)
		}
	}
	if l.Has("# english") {
		t.Error("comments should be skipped")
	}
}

func TestStopwordListNilAndMerge(t *testing.T) {
	var nilList *StopwordList
	if nilList.Has("the") || nilList.Len() != 0 {
		t.Error("nil list should be empty")
	}

	l := NewStopwordList("le")
	l.Merge(NewStopwordList("the"))
	l.Merge(nil)
	if !l.Has("le") || !l.Has("the") {
		t.Error("Merge should keep both lists")
	}
}

func TestLoadStopwordsMissingFile(t *testing.T) {
	if _, err := LoadStopwords(t.TempDir() + "/missing"); err == nil {
		t.Error("expected error for missing file")
	}
}

func BenchmarkFeatures(b *testing.B) {
	e, _ := NewExtractor()
	for i := 0; i < b.N; i++ {
		e.Features("http://www.seeks-project.info/search?q=collaborative+websearch")
	}
}
