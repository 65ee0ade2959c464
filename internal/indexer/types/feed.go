package types

import (
	"encoding/xml"
	"time"
)

// Feed is the RSS-ish document returned by Torznab and Newznab APIs.
// Extended attributes arrive as namespaced attr elements on each item;
// both namespaces decode into the same Attr slice.
type Feed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string     `xml:"title"`
		Items []FeedItem `xml:"item"`
	} `xml:"channel"`
}

// FeedItem is a single release entry in a feed.
type FeedItem struct {
	Title     string     `xml:"title"`
	GUID      string     `xml:"guid"`
	Link      string     `xml:"link"`
	Size      int64      `xml:"size"`
	PubDate   string     `xml:"pubDate"`
	Enclosure *Enclosure `xml:"enclosure"`
	Attrs     []FeedAttr `xml:"attr"`
}

// Enclosure carries the download URL and length for an item.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// FeedAttr is a namespaced name/value attribute on a feed item.
type FeedAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Attr returns the value of the named attribute, or "" when absent.
func (i *FeedItem) Attr(name string) string {
	for _, a := range i.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// ParsePubDate parses the RFC1123-style timestamps feeds use. Feeds in
// the wild disagree on the zone format, so a few layouts are tried.
func ParsePubDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CapsResponse is the document returned by the t=caps endpoint.
type CapsResponse struct {
	XMLName   xml.Name `xml:"caps"`
	Searching struct {
		Search      CapsSearch `xml:"search"`
		TVSearch    CapsSearch `xml:"tv-search"`
		MovieSearch CapsSearch `xml:"movie-search"`
	} `xml:"searching"`
	Categories struct {
		Categories []CapsCategory `xml:"category"`
	} `xml:"categories"`
}

// CapsSearch describes one search mode in a caps document.
type CapsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

// CapsCategory is a category entry in a caps document.
type CapsCategory struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}
