package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Checksum of a product as published by the catalogue
type Checksum struct {
	Algorithm    string    `json:"Algorithm"`
	Value        string    `json:"Value"`
	ChecksumDate time.Time `json:"ChecksumDate,omitempty"`
}

// ContentDate is the sensing interval of a product
type ContentDate struct {
	Start time.Time `json:"Start"`
	End   time.Time `json:"End"`
}

// Attribute of a product (when expanded)
type Attribute struct {
	Name      string      `json:"Name"`
	Value     interface{} `json:"Value"`
	ValueType string      `json:"ValueType"`
}

// Asset of a product (quicklook...)
type Asset struct {
	Type         string `json:"Type"`
	Id           string `json:"Id"`
	DownloadLink string `json:"DownloadLink"`
	S3Path       string `json:"S3Path"`
}

// Product describes a product of the catalogue.
// It is read-only and shared between the search and the download components.
type Product struct {
	Id               string      `json:"Id"`
	Name             string      `json:"Name"`
	ContentType      string      `json:"ContentType,omitempty"`
	ContentLength    int64       `json:"ContentLength"`
	Checksum         []Checksum  `json:"Checksum"`
	S3Path           string      `json:"S3Path,omitempty"`
	Online           bool        `json:"Online"`
	OriginDate       time.Time   `json:"OriginDate,omitempty"`
	PublicationDate  time.Time   `json:"PublicationDate,omitempty"`
	ModificationDate time.Time   `json:"ModificationDate,omitempty"`
	ContentDate      ContentDate `json:"ContentDate,omitempty"`
	Footprint        string      `json:"Footprint,omitempty"`
	Attributes       []Attribute `json:"Attributes,omitempty"`
	Assets           []Asset     `json:"Assets,omitempty"`
	DeletionDate     time.Time   `json:"DeletionDate,omitempty"`
	DeletionCause    string      `json:"DeletionCause,omitempty"`
}

// ErrProductNotFound is returned when a product is not found or available
type ErrProductNotFound struct {
	Product string
}

func (e ErrProductNotFound) Error() string {
	return fmt.Sprintf("Product not found or unavailable: %s", e.Product)
}

// product prevents the recursion of UnmarshalJSON
type product Product

// openSearchFeature is the geojson feature returned by the opensearch catalogue
type openSearchFeature struct {
	Id         string `json:"id"`
	Properties struct {
		Title             string    `json:"title"`
		ProductIdentifier string    `json:"productIdentifier"`
		StartDate         time.Time `json:"startDate"`
		CompletionDate    time.Time `json:"completionDate"`
		Published         time.Time `json:"published"`
		Updated           time.Time `json:"updated"`
		Status            string    `json:"status"`
		Thumbnail         string    `json:"thumbnail"`
		Services          struct {
			Download struct {
				URL      string `json:"url"`
				MimeType string `json:"mimeType"`
				Size     int64  `json:"size"`
			} `json:"download"`
		} `json:"services"`
	} `json:"properties"`
}

// UnmarshalJSON accepts the OData shape ({"Id", "Name"...}) and the opensearch feature shape ({"id", "properties": {"title"...}})
func (p *Product) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	// json keys are matched case-insensitively: the shape is given by the "properties" key
	if _, ok := keys["properties"]; !ok {
		var odata product
		if err := json.Unmarshal(data, &odata); err != nil {
			return err
		}
		if odata.Id == "" && odata.Name == "" {
			return fmt.Errorf("product: neither Id nor Name found")
		}
		*p = Product(odata)
		return nil
	}
	var feature openSearchFeature
	if err := json.Unmarshal(data, &feature); err != nil {
		return err
	}
	if feature.Id == "" {
		return fmt.Errorf("product: id not found")
	}
	props := feature.Properties
	*p = Product{
		Id:               feature.Id,
		Name:             props.Title,
		ContentType:      props.Services.Download.MimeType,
		ContentLength:    props.Services.Download.Size,
		S3Path:           props.ProductIdentifier,
		Online:           props.Status == "" || props.Status == "ONLINE",
		PublicationDate:  props.Published,
		ModificationDate: props.Updated,
		ContentDate:      ContentDate{Start: props.StartDate, End: props.CompletionDate},
	}
	if props.Thumbnail != "" {
		p.Assets = []Asset{{Type: "QUICKLOOK", DownloadLink: props.Thumbnail}}
	}
	return nil
}

// AttributeValue returns the value of the attribute (expanded products only)
func (p Product) AttributeValue(name string) (interface{}, bool) {
	for _, a := range p.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}
