// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package listener

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.chromium.org/devrun/errors"
)

// Summary counts test cases in a result document.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d tests: %d passed, %d failed, %d skipped", s.Total, s.Passed, s.Failed, s.Skipped)
}

// ParseFile summarizes the result document at path.
func ParseFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse summarizes a result document. NUnit (<test-run>), xUnit
// (<assemblies>/<assembly>) and JUnit (<testsuites>/<testsuite>) documents
// are understood; only the counters on the root, or on its direct children
// when the root has none, are read.
func Parse(r io.Reader) (*Summary, error) {
	dec := xml.NewDecoder(r)
	var root *xml.StartElement
	var sum Summary
	var childSum Summary
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "malformed result document")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				root = &t
				sum = counts(t)
			case 2:
				c := counts(t)
				childSum.Total += c.Total
				childSum.Passed += c.Passed
				childSum.Failed += c.Failed
				childSum.Skipped += c.Skipped
			}
		case xml.EndElement:
			depth--
		}
	}
	if root == nil {
		return nil, errors.New("empty result document")
	}
	if depth != 0 {
		return nil, errors.New("truncated result document")
	}
	if sum.Total == 0 && childSum.Total > 0 {
		sum = childSum
	}
	if sum.Passed == 0 && sum.Total > 0 {
		sum.Passed = sum.Total - sum.Failed - sum.Skipped
	}
	return &sum, nil
}

func counts(e xml.StartElement) Summary {
	var s Summary
	for _, a := range e.Attr {
		n, err := strconv.Atoi(a.Value)
		if err != nil {
			continue
		}
		switch a.Name.Local {
		case "total", "tests":
			s.Total = n
		case "passed":
			s.Passed = n
		case "failed", "failures", "errors", "error":
			s.Failed += n
		case "skipped", "notrun", "inconclusive":
			s.Skipped += n
		}
	}
	return s
}
