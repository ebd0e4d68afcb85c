package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadingTrailWalksNestedHeadings(t *testing.T) {
	doc := []Element{
		{
			Kind: ElementHeading, HeadingLevel: 1, Text: "Introduction",
			Children: []Element{
				{Kind: ElementHeading, HeadingLevel: 2, Text: "Background"},
				{Kind: ElementParagraph, Text: "body text"},
			},
		},
	}

	trail := HeadingTrail(doc, []int{0, 1})
	assert.Equal(t, []string{"Introduction"}, trail)

	trail = HeadingTrail(doc, []int{0, 0})
	assert.Equal(t, []string{"Introduction", "Background"}, trail)
}

func TestEmbeddingProfileValidate(t *testing.T) {
	p := EmbeddingProfile{ProviderID: "local", ModelID: "hash-3gram", Dimension: 384}
	assert.NoError(t, p.Validate())

	p.Dimension = 0
	assert.Error(t, p.Validate())
}
