package cmd

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"strconv"
)

// pgm is a decoded binary (P5) portable graymap
type pgm struct {
	Width, Height int
	MaxVal        int
	Samples       []int
}

// BitDepth returns the bits needed for MaxVal
func (p *pgm) BitDepth() int {
	return bits.Len(uint(p.MaxVal))
}

func readPGM(r io.Reader) (*pgm, error) {
	br := bufio.NewReader(r)
	magic, err := pgmToken(br)
	if err != nil {
		return nil, err
	}
	if magic != "P5" {
		return nil, fmt.Errorf("pgm: unsupported magic %q", magic)
	}
	var hdr [3]int
	for i := range hdr {
		tok, err := pgmToken(br)
		if err != nil {
			return nil, err
		}
		if hdr[i], err = strconv.Atoi(tok); err != nil {
			return nil, fmt.Errorf("pgm: %w", err)
		}
	}
	p := &pgm{Width: hdr[0], Height: hdr[1], MaxVal: hdr[2]}
	if p.Width <= 0 || p.Height <= 0 || p.MaxVal <= 0 || p.MaxVal > 65535 {
		return nil, fmt.Errorf("pgm: bad header %dx%d max %d", p.Width, p.Height, p.MaxVal)
	}

	bps := 1
	if p.MaxVal > 255 {
		bps = 2
	}
	raw := make([]byte, p.Width*p.Height*bps)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("pgm: %w", err)
	}
	p.Samples = make([]int, p.Width*p.Height)
	for i := range p.Samples {
		if bps == 2 {
			p.Samples[i] = int(raw[2*i])<<8 | int(raw[2*i+1])
		} else {
			p.Samples[i] = int(raw[i])
		}
	}
	return p, nil
}

// pgmToken reads a whitespace separated header token, skipping comments. The
// single whitespace byte after the token is consumed.
func pgmToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", fmt.Errorf("pgm header: %w", err)
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", fmt.Errorf("pgm header: %w", err)
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, c)
		}
	}
}
