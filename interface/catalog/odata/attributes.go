package odata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// AttributeInfo describes an attribute that can be queried
type AttributeInfo struct {
	Name      string `json:"Name"`
	ValueType string `json:"ValueType"`
}

// CollectionAttributes lists the attributes by collection
type CollectionAttributes map[string][]AttributeInfo

// Attributes returns the attributes of all the collections.
// They are fetched once per client.
func (c *Client) Attributes(ctx context.Context) (CollectionAttributes, error) {
	c.attrMu.Lock()
	defer c.attrMu.Unlock()
	if c.attributes != nil {
		return c.attributes, nil
	}
	attrs := CollectionAttributes{}
	if err := c.getJSON(ctx, c.baseURL+"/Attributes", &attrs); err != nil {
		return nil, fmt.Errorf("Attributes: %w", err)
	}
	c.attributes = attrs
	return attrs, nil
}

// Collections returns the sorted names of the known collections
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	attrs, err := c.Attributes(ctx)
	if err != nil {
		return nil, err
	}
	collections := make([]string, 0, len(attrs))
	for k := range attrs {
		collections = append(collections, k)
	}
	sort.Strings(collections)
	return collections, nil
}

// CollectionAttributes returns the names of the attributes that can be queried in the collection
func (c *Client) CollectionAttributes(ctx context.Context, collection string) ([]string, error) {
	attrs, err := c.Attributes(ctx)
	if err != nil {
		return nil, err
	}
	infos, ok := attrs[collection]
	if !ok {
		collections, _ := c.Collections(ctx)
		return nil, fmt.Errorf("Invalid collection: %s. Available: %v", collection, collections)
	}
	names := make([]string, len(infos))
	for i, a := range infos {
		names[i] = a.Name
	}
	return names, nil
}

// AttributeType returns the type of the attribute in the collection (String, Integer, Double, DateTimeOffset or Boolean)
// or "" if it is unknown.
func (c *Client) AttributeType(ctx context.Context, collection, name string) (string, error) {
	attrs, err := c.Attributes(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range attrs[collection] {
		if a.Name == name {
			return a.ValueType, nil
		}
	}
	return "", nil
}

var operators = []struct{ symbol, pattern string }{
	{"<=", PatternLte},
	{">=", PatternGte},
	{"!=", ""},
	{"<", PatternLt},
	{">", PatternGt},
	{"=", PatternEq},
}

// ParseAttributeFilter parses an expression "name<op>value" (op: = != < <= > >=) and returns the attribute filter,
// converting the value to the type of the attribute in the collection.
func (c *Client) ParseAttributeFilter(ctx context.Context, collection, expr string) (Filter, error) {
	for _, op := range operators {
		i := strings.Index(expr, op.symbol)
		if i <= 0 {
			continue
		}
		name, raw := strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+len(op.symbol):])
		valueType, err := c.AttributeType(ctx, collection, name)
		if err != nil {
			return Filter{}, fmt.Errorf("ParseAttributeFilter.%w", err)
		}
		if valueType == "" {
			names, _ := c.CollectionAttributes(ctx, collection)
			return Filter{}, fmt.Errorf("unknown attribute %s for collection %s (available: %v)", name, collection, names)
		}
		value, err := convertAttribute(valueType, raw)
		if err != nil {
			return Filter{}, fmt.Errorf("ParseAttributeFilter[%s]: %w", expr, err)
		}
		if op.pattern == "" {
			f, err := AttributeFilter(PatternEq, name, value)
			return f.Not(), err
		}
		return AttributeFilter(op.pattern, name, value)
	}
	return Filter{}, fmt.Errorf("ParseAttributeFilter: invalid expression %s", expr)
}

func convertAttribute(valueType, raw string) (interface{}, error) {
	switch valueType {
	case "Integer":
		return strconv.ParseInt(raw, 10, 64)
	case "Double":
		return strconv.ParseFloat(raw, 64)
	case "Boolean":
		return strconv.ParseBool(raw)
	case "DateTimeOffset":
		t, err := dateparse.ParseIn(raw, time.UTC)
		return t, err
	}
	return raw, nil
}
