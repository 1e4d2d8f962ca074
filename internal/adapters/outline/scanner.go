package outline

// slideScanner находит в потоке ответа модели завершённые объекты массива "slides".
// Состояние сохраняется между фрагментами, поэтому разрыв фрагмента в любом месте безопасен.
type slideScanner struct {
	buf        []byte
	pos        int
	depth      int
	inString   bool
	escape     bool
	strStart   int
	lastString string
	expectArr  bool
	inSlides   bool
	arrDepth   int
	objStart   int
}

func (s *slideScanner) Feed(chunk string) []string {
	s.buf = append(s.buf, chunk...)
	var out []string
	for ; s.pos < len(s.buf); s.pos++ {
		c := s.buf[s.pos]
		if s.inString {
			switch {
			case s.escape:
				s.escape = false
			case c == '\\':
				s.escape = true
			case c == '"':
				s.inString = false
				if s.depth == 1 {
					s.lastString = string(s.buf[s.strStart+1 : s.pos])
				}
			}
			continue
		}
		switch c {
		case '"':
			s.inString = true
			s.strStart = s.pos
		case ':':
			if s.depth == 1 {
				s.expectArr = s.lastString == "slides"
			}
		case ',':
			if s.depth == 1 {
				s.expectArr = false
				s.lastString = ""
			}
		case '{', '[':
			if c == '[' && s.depth == 1 && s.expectArr && !s.inSlides {
				s.inSlides = true
				s.arrDepth = s.depth + 1
			}
			if c == '{' && s.inSlides && s.depth == s.arrDepth {
				s.objStart = s.pos
			}
			s.depth++
		case '}', ']':
			s.depth--
			if s.inSlides && c == '}' && s.depth == s.arrDepth {
				out = append(out, string(s.buf[s.objStart:s.pos+1]))
			}
			if s.inSlides && c == ']' && s.depth < s.arrDepth {
				s.inSlides = false
				s.expectArr = false
			}
		}
	}
	return out
}
