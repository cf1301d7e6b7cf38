package ir

import "fmt"

// Key identifies one document instance. It is the routing and persistence
// identity and never changes.
type Key struct {
	Space string `json:"space"`
	ID    string `json:"key"`
}

func (k Key) String() string {
	return k.Space + "/" + k.ID
}

// Client is an external identity acting on a document.
type Client struct {
	Agent     string `json:"agent"`
	Authority string `json:"authority"`
}

// NoOne is the anonymous client.
var NoOne = Client{Agent: "?", Authority: "?"}

func (c Client) String() string {
	return c.Agent + "@" + c.Authority
}

// Object converts the client to its persisted form.
func (c Client) Object() IRObject {
	return IRObject{"agent": IRString(c.Agent), "authority": IRString(c.Authority)}
}

// ClientFrom reads a client from its persisted form.
func ClientFrom(v IRValue) (Client, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return Client{}, fmt.Errorf("client must be an object, got %s", KindOf(v))
	}
	agent, aok := obj["agent"].(IRString)
	authority, uok := obj["authority"].(IRString)
	if !aok || !uok {
		return Client{}, fmt.Errorf("client requires string agent and authority")
	}
	return Client{Agent: string(agent), Authority: string(authority)}, nil
}

// Asset is an uploaded blob referenced by a document.
type Asset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"type"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
	SHA384      string `json:"sha384"`
}

// Object converts the asset to its persisted form.
func (a Asset) Object() IRObject {
	return IRObject{
		"id":     IRString(a.ID),
		"name":   IRString(a.Name),
		"type":   IRString(a.ContentType),
		"size":   IRInt(a.Size),
		"md5":    IRString(a.MD5),
		"sha384": IRString(a.SHA384),
	}
}

// AssetFrom reads an asset from its persisted form. Only id is required.
func AssetFrom(v IRValue) (Asset, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return Asset{}, fmt.Errorf("asset must be an object, got %s", KindOf(v))
	}
	id, ok := obj["id"].(IRString)
	if !ok || id == "" {
		return Asset{}, fmt.Errorf("asset requires an id")
	}
	return Asset{
		ID:          string(id),
		Name:        obj.Str("name"),
		ContentType: obj.Str("type"),
		Size:        obj.Int("size"),
		MD5:         obj.Str("md5"),
		SHA384:      obj.Str("sha384"),
	}, nil
}

// Change is the record of one committed transaction.
//
// Forward turns the pre-transaction snapshot into the post-transaction
// snapshot; Reverse undoes it. Both are RFC 7386 merge patches.
type Change struct {
	Seq     int64    `json:"seq"`
	Who     *Client  `json:"who,omitempty"`
	Request string   `json:"request"`
	Forward IRObject `json:"forward"`
	Reverse IRObject `json:"reverse"`
}
