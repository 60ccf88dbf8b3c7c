// Package e2e provides end-to-end tests that exercise the full ingestion and
// retrieval path over an on-disk book corpus.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Chapter is one markdown chapter of the fixture book. Signature is a phrase
// unique to the chapter, used to query for it.
type Chapter struct {
	File      string
	Title     string
	Signature string
	Body      string
}

// BookFixture describes the corpus written to disk for a test run.
type BookFixture struct {
	Root     string
	Chapters []Chapter
	// TemplateFiles are boilerplate pages that ingestion must skip.
	TemplateFiles []string
}

// buildChapters returns the fixture book's chapters. Each body repeats the
// signature phrase with filler so that chunking yields several chunks.
func buildChapters() []Chapter {
	specs := []struct {
		file, title, signature string
	}{
		{"ch01-physical-ai.md", "What Is Physical AI", "Physical AI brings machine intelligence into the physical world through robots"},
		{"ch02-sensing.md", "Sensing the World", "Robots perceive their surroundings with cameras lidar and tactile sensors"},
		{"ch03-actuation.md", "Actuation and Motion", "Actuators convert control signals into motion through motors and hydraulics"},
		{"ch04-learning.md", "Learning Control Policies", "Reinforcement learning trains control policies through trial and reward"},
		{"ch05-simulation.md", "Simulation to Reality", "Simulated environments let robots practice before touching real hardware"},
	}
	chapters := make([]Chapter, len(specs))
	for i, s := range specs {
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", s.title)
		for p := 0; p < 4; p++ {
			fmt.Fprintf(&b, "%s. ", s.signature)
			b.WriteString(strings.Repeat("The chapter develops this idea with worked examples and diagrams. ", 12))
			b.WriteString("\n\n")
		}
		chapters[i] = Chapter{File: s.file, Title: s.title, Signature: s.signature, Body: b.String()}
	}
	return chapters
}

const templatePage = `# How to Use This Book

Each chapter ends with exercises. Code samples are available online.
Work through the chapters in order; later chapters assume earlier material.
` // matches the default template patterns

// WriteBook writes the fixture book under root and returns its description.
func WriteBook(root string) (*BookFixture, error) {
	chapters := buildChapters()
	for _, ch := range chapters {
		if err := os.WriteFile(filepath.Join(root, ch.File), []byte(ch.Body), 0o644); err != nil {
			return nil, err
		}
	}
	const frontMatter = "front-matter.md"
	if err := os.WriteFile(filepath.Join(root, frontMatter), []byte(templatePage), 0o644); err != nil {
		return nil, err
	}
	return &BookFixture{
		Root:          root,
		Chapters:      chapters,
		TemplateFiles: []string{frontMatter},
	}, nil
}
