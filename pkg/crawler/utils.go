package crawler

import (
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// defaultThrottle keeps crawls of public repositories below their rate limits.
const defaultThrottle = 100 * time.Millisecond

// Secondary artifacts are not indexed.
var skippedSuffixes = []string{"-sources.jar", "-test.jar", "-tests.jar", "-javadoc.jar", "-scaladoc.jar"}

func skipArtifact(name string) bool {
	for _, suffix := range skippedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	// checksums of checksums and signatures
	ext := path.Ext(name)
	return ext == ".asc" || ext == ".md5" || ext == ".sha1"
}

func linkFromSelection(selection *goquery.Selection) string {
	link := strings.TrimSpace(selection.Text())
	href, ok := selection.Attr("href")
	// maven uses `.../` suffix for dirs and `...` suffix for files.
	if ok && (link == "" || strings.HasSuffix(link, ".../") || strings.HasSuffix(link, "...")) {
		link = path.Base(strings.TrimSuffix(href, "/"))
		if strings.HasSuffix(href, "/") {
			link += "/"
		}
	}
	return link
}
