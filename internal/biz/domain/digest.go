package domain

import "strings"

// DigestTarget is where run digests are delivered
type DigestTarget struct {
	IDType string // chat_id, open_id, user_id or email
	ID     string
}

// DigestSection is a headed block of digest lines
type DigestSection struct {
	Heading string
	Lines   []string
}

// Digest is the human-readable summary of one closed run
type Digest struct {
	Title    string
	Overview []string
	Sections []DigestSection
}

// Empty reports whether the digest has nothing beyond its overview
func (d *Digest) Empty() bool {
	return len(d.Sections) == 0
}

// Text renders the digest as plain text
func (d *Digest) Text() string {
	var b strings.Builder
	b.WriteString(d.Title)
	b.WriteString("\n")
	for _, line := range d.Overview {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, s := range d.Sections {
		b.WriteString("\n")
		b.WriteString(s.Heading)
		b.WriteString("\n")
		for _, line := range s.Lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
