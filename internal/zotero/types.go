package zotero

import (
	"encoding/json"
	"time"
)

const (
	ItemTypeWebpage    = "webpage"
	ItemTypeAttachment = "attachment"
	LinkModeLinkedFile = "linked_file"
	SnapshotTitle      = "Snapshot"
	accessDateLayout   = "2006-01-02"
)

// Item is a write payload accepted by CreateItems.
type Item interface {
	itemType() string
}

// WebpageItem is the bibliographic record created for a capture.
type WebpageItem struct {
	ItemType    string   `json:"itemType"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Collections []string `json:"collections,omitempty"`
}

func (WebpageItem) itemType() string { return ItemTypeWebpage }

func NewWebpageItem(title, url, collectionKey string) WebpageItem {
	item := WebpageItem{ItemType: ItemTypeWebpage, Title: title, URL: url}
	if collectionKey != "" {
		item.Collections = []string{collectionKey}
	}
	return item
}

// LinkedFileAttachment points the library at a file by path.
type LinkedFileAttachment struct {
	ItemType    string `json:"itemType"`
	ParentItem  string `json:"parentItem"`
	LinkMode    string `json:"linkMode"`
	AccessDate  string `json:"accessDate"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
}

func (LinkedFileAttachment) itemType() string { return ItemTypeAttachment }

func NewLinkedFileAttachment(parentKey, path string, accessed time.Time) LinkedFileAttachment {
	return LinkedFileAttachment{
		ItemType:    ItemTypeAttachment,
		ParentItem:  parentKey,
		LinkMode:    LinkModeLinkedFile,
		AccessDate:  accessed.Format(accessDateLayout),
		Title:       SnapshotTitle,
		Path:        path,
		ContentType: "text/html",
	}
}

// Collection is the flattened view of a remote collection.
type Collection struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	ParentKey string `json:"parentKey,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

type collectionEnvelope struct {
	Key  string `json:"key"`
	Data struct {
		Name             string    `json:"name"`
		ParentCollection parentKey `json:"parentCollection"`
		Deleted          flag      `json:"deleted"`
	} `json:"data"`
}

// parentKey decodes parentCollection, which is either false or a key.
type parentKey string

func (p *parentKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = parentKey(s)
		return nil
	}
	*p = ""
	return nil
}

// flag decodes booleans the API sometimes sends as 0/1.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flag(t)
	case float64:
		*f = t != 0
	default:
		*f = false
	}
	return nil
}

// Created identifies an object the API reports as written.
type Created struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
}

// WriteFailure is one entry of the "failed" map.
type WriteFailure struct {
	Key     string `json:"key"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteResult mirrors the multi-object write response, keyed by request index.
type WriteResult struct {
	Successful map[string]Created      `json:"successful"`
	Success    map[string]string       `json:"success"`
	Unchanged  map[string]string       `json:"unchanged"`
	Failed     map[string]WriteFailure `json:"failed"`
}

// First returns the object written for request index 0.
func (r *WriteResult) First() (Created, bool) {
	if r == nil {
		return Created{}, false
	}
	if c, ok := r.Successful["0"]; ok && c.Key != "" {
		return c, true
	}
	if key, ok := r.Success["0"]; ok && key != "" {
		return Created{Key: key}, true
	}
	return Created{}, false
}
