package archive

import (
	"strings"
	"testing"
)

func BenchmarkDecode(b *testing.B) {
	var sb strings.Builder
	lines := strings.SplitAfter(sampleArchive, "\n")
	sb.WriteString(lines[0])
	sb.WriteString(lines[1])
	for i := 0; i < 2000; i++ {
		sb.WriteString(lines[2])
		sb.WriteString(lines[3])
	}
	contents := sb.String()
	c := NewCodec()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Decode(contents, "archives_2023.txt")
	}
}
