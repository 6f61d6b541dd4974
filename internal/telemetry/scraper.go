package telemetry

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Scraper is the fallback ingestion path: it applies fixed regex patterns
// to raw log lines when no structured event source is available. Lines are
// attributed to the most recent "Agent: X" marker seen.
type Scraper struct {
	collector *Collector

	mu           sync.Mutex
	currentAgent string
}

var (
	agentPattern  = regexp.MustCompile(`^\s*Agent:\s+(\S.*?)\s*$`)
	inputPattern  = regexp.MustCompile(`([\d,]+)\s+input tokens`)
	outputPattern = regexp.MustCompile(`([\d,]+)\s+output tokens`)
	gitPattern    = regexp.MustCompile(`\bgit\s+(commit|push|merge|checkout|branch|worktree)\b.*`)
)

func NewScraper(collector *Collector) *Scraper {
	return &Scraper{collector: collector}
}

// ScrapeLine processes one log line. Lines before any agent marker are
// dropped: there is nobody to attribute them to.
func (s *Scraper) ScrapeLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}

	if m := agentPattern.FindStringSubmatch(line); m != nil {
		s.mu.Lock()
		s.currentAgent = m[1]
		s.mu.Unlock()
		s.collector.Track(m[1])
		return
	}

	s.mu.Lock()
	agent := s.currentAgent
	s.mu.Unlock()
	if agent == "" {
		return
	}

	rt := s.collector.Runtime(agent)
	rt.RecordLog(line)

	input := matchCount(inputPattern, line)
	output := matchCount(outputPattern, line)
	if input > 0 || output > 0 {
		rt.AddTokens(input, output)
	}
	if m := gitPattern.FindString(line); m != "" {
		rt.RecordGitActivity(m)
	}
}

// Scrape consumes an entire log stream line by line, for tailing a session
// log file or a subprocess pipe.
func (s *Scraper) Scrape(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.ScrapeLine(scanner.Text())
	}
	return scanner.Err()
}

func matchCount(re *regexp.Regexp, line string) int {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}
