package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// ExtractContent returns the page content as markdown. It converts the
// rendered HTML with html-to-markdown, falling back to readability text
// extraction when conversion fails.
func (t *Tab) ExtractContent(ctx context.Context) (string, error) {
	page := t.bound(ctx)

	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("failed to get page info: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page HTML: %w", err)
	}
	logging.L_debug("browser: extracting content", "tab", t.id, "url", info.URL, "htmlLength", len(html))

	markdown, err := htmltomd.ConvertString(html)
	if err != nil {
		logging.L_warn("browser: html-to-markdown failed, falling back to readability", "error", err)
		parsedURL, _ := url.Parse(info.URL)
		article, readErr := readability.FromReader(strings.NewReader(html), parsedURL)
		if readErr != nil {
			return "", fmt.Errorf("failed to extract content: %w", readErr)
		}
		return article.TextContent, nil
	}

	logging.L_debug("browser: content extracted", "tab", t.id, "markdownLength", len(markdown))
	return markdown, nil
}
