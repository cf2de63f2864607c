package repository

import (
	"context"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
	goconfluence "github.com/virtomize/confluence-go-api"
)

type ConfluenceRepository struct {
	domain     string
	ancestorID string
	spaceKey   string
	client     *goconfluence.API
	sanitizer  *bluemonday.Policy
}

func NewConfluenceRepository(domain, user, password, spaceKey, ancestorID string) (*ConfluenceRepository, error) {
	api, err := goconfluence.NewAPI(
		fmt.Sprintf("https://%s.atlassian.net/wiki/rest/api", domain),
		user,
		password)
	if err != nil {
		return nil, fmt.Errorf("failed to create confluence api: %w", err)
	}

	return &ConfluenceRepository{
		domain:     domain,
		ancestorID: ancestorID,
		spaceKey:   spaceKey,
		client:     api,
		sanitizer:  bluemonday.UGCPolicy(),
	}, nil
}

// ExportReport renders the incident report markdown to sanitized HTML
// and publishes it as a Confluence page. Returns the page URL.
func (c *ConfluenceRepository) ExportReport(ctx context.Context, title, markdown string) (string, error) {
	rendered := blackfriday.Run([]byte(markdown))
	body := c.sanitizer.SanitizeBytes(rendered)

	data := &goconfluence.Content{
		Type:  "page",
		Title: title,
		Body: goconfluence.Body{
			Storage: goconfluence.Storage{
				Value:          string(body),
				Representation: "storage",
			},
		},
		Version: &goconfluence.Version{ // mandatory
			Number: 1,
		},
	}
	if c.ancestorID != "" {
		data.Ancestors = append(data.Ancestors, goconfluence.Ancestor{
			ID: c.ancestorID,
		})
	}

	if c.spaceKey != "" {
		data.Space = &goconfluence.Space{
			Key: c.spaceKey,
		}
	}

	content, err := c.client.CreateContent(data)
	if err != nil {
		return "", fmt.Errorf("failed to create confluence page: %w", err)
	}

	return fmt.Sprintf("https://%s.atlassian.net/wiki/pages/viewpage.action?pageId=%s", c.domain, content.ID), nil
}
