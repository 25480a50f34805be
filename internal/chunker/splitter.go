package chunker

import "strings"

// Separator preference for recursive splitting, coarsest first. The empty
// separator means a hard cut.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// splitter cuts text into pieces of at most size length units with
// neighbouring pieces sharing up to overlap units.
type splitter struct {
	size    int
	overlap int
	length  LengthFunc
}

func (s *splitter) split(text string) []string {
	return s.splitRecursive(text, defaultSeparators)
}

func (s *splitter) splitRecursive(text string, seps []string) []string {
	if s.length(text) <= s.size {
		t := strings.TrimSpace(text)
		if t == "" {
			return nil
		}
		return []string{t}
	}

	sep := ""
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardCut(text)
	}

	var parts []string
	for _, part := range strings.Split(text, sep) {
		switch {
		case s.length(part) > s.size:
			parts = append(parts, s.splitRecursive(part, rest)...)
		case strings.TrimSpace(part) != "":
			parts = append(parts, part)
		}
	}
	return s.merge(parts, sep)
}

// merge packs parts back into chunks up to size, carrying a tail of at
// most overlap length units into the next chunk.
func (s *splitter) merge(parts []string, sep string) []string {
	sepLen := s.length(sep)
	joinedLen := func(ps []string) int {
		total := 0
		for i, p := range ps {
			if i > 0 {
				total += sepLen
			}
			total += s.length(p)
		}
		return total
	}

	var chunks []string
	var cur []string
	for _, part := range parts {
		partLen := s.length(part)
		if len(cur) > 0 && joinedLen(cur)+sepLen+partLen > s.size {
			chunk := strings.TrimSpace(strings.Join(cur, sep))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(cur) > 0 && (joinedLen(cur) > s.overlap || joinedLen(cur)+sepLen+partLen > s.size) {
				cur = cur[1:]
			}
		}
		cur = append(cur, part)
	}
	if len(cur) > 0 {
		chunk := strings.TrimSpace(strings.Join(cur, sep))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// hardCut slices text into windows measured by the length function, used
// when no separator can break the text. Each window grows until adding the
// next rune would exceed size; the next window starts inside the previous
// one, keeping a tail of at most overlap length units.
func (s *splitter) hardCut(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for start < len(runes) {
		end := start + 1
		for end < len(runes) && s.length(string(runes[start:end+1])) <= s.size {
			end++
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
		next := end
		for next > start+1 && s.length(string(runes[next-1:end])) <= s.overlap {
			next--
		}
		start = next
	}
	return out
}
