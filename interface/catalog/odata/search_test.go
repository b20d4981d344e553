package odata_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// catalogue serves total products, by pages of $top, with a nextLink
func catalogue(total int, calls *int32) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		switch r.URL.Path {
		case "/odata/v1/Attributes":
			fmt.Fprint(w, `{"SENTINEL-2":[{"Name":"cloudCover","ValueType":"Double"},{"Name":"relativeOrbitNumber","ValueType":"Integer"}],"SENTINEL-1":[]}`)
			return
		case "/odata/v1/Products":
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"detail":{"message":"not found","request_id":"abc"}}`)
			return
		}
		if q.Get("$filter") == "Name eq 'fail'" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"detail":{"message":"Invalid filter","request_id":"123"}}`)
			return
		}
		if q.Get("$filter") == "Name eq 'none'" {
			fmt.Fprint(w, `{"value":[]}`)
			return
		}
		if q.Get("$count") == "True" {
			fmt.Fprintf(w, `{"@odata.count":%d,"value":[{"Id":"0","Name":"P0"}]}`, total)
			return
		}
		top, _ := strconv.Atoi(q.Get("$top"))
		skip, _ := strconv.Atoi(q.Get("$skip"))
		if top == 0 {
			top = 20
		}
		fmt.Fprint(w, `{"value":[`)
		for i := skip; i < skip+top && i < total; i++ {
			if i > skip {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"Id":"%d","Name":"P%d","ContentLength":10,"Checksum":[{"Algorithm":"MD5","Value":"x"}]}`, i, i)
		}
		fmt.Fprint(w, `]`)
		if skip+top < total {
			next := r.URL.Query()
			next.Set("$skip", strconv.Itoa(skip+top))
			fmt.Fprintf(w, `,"@odata.nextLink":"%s/odata/v1/Products?%s"`, srv.URL, next.Encode())
		}
		fmt.Fprint(w, `}`)
	}))
	return srv
}

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		srv    *httptest.Server
		client *odata.Client
		calls  int32
	)

	BeforeEach(func() {
		ctx = context.Background()
		calls = 0
		srv = catalogue(45, &calls)
		client = odata.NewClient(srv.Client(), odata.WithBaseURL(srv.URL+"/odata/v1"), odata.WithRetries(1, 0))
	})

	AfterEach(func() {
		srv.Close()
	})

	Context("ProductSearch", func() {
		It("should validate the parameters", func() {
			_, err := client.ProductSearch(odata.Query{Top: 1001})
			Expect(err).To(MatchError(ContainSubstring("top must be between 0 and 1000")))
			_, err = client.ProductSearch(odata.Query{Top: -1})
			Expect(err).To(MatchError(ContainSubstring("top must be between 0 and 1000")))
			_, err = client.ProductSearch(odata.Query{Skip: 10001})
			Expect(err).To(MatchError(ContainSubstring("skip must be between 0 and 10000")))
			_, err = client.ProductSearch(odata.Query{Expand: "test"})
			Expect(err).To(MatchError(ContainSubstring("Invalid `expand` ")))
			_, err = client.ProductSearch(odata.Query{OrderBy: "test"})
			Expect(err).To(MatchError(ContainSubstring("Invalid `order_by` ")))
			_, err = client.ProductSearch(odata.Query{OrderBy: "PublicationDate", Order: "test"})
			Expect(err).To(MatchError(ContainSubstring("Invalid `order` ")))
			_, err = client.ProductSearch(odata.Query{DeletionCause: "Missing checksum"})
			Expect(err).To(HaveOccurred())
		})

		It("should build the url", func() {
			s, err := client.ProductSearch(odata.Query{Collection: "SENTINEL-2", OrderBy: "ContentDate/Start", Order: "desc", Expand: "Attributes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.URL(10, false)).To(Equal(srv.URL + "/odata/v1/Products?%24expand=Attributes&%24filter=Collection%2FName+eq+%27SENTINEL-2%27&%24orderby=ContentDate%2FStart+desc&%24top=10"))
		})

		It("should get a limited number of products", func() {
			s, err := client.ProductSearch(odata.Query{Collection: "SENTINEL-2"})
			Expect(err).NotTo(HaveOccurred())
			products, err := s.Get(ctx, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(HaveLen(5))
			Expect(products[4].Name).To(Equal("P4"))
			Expect(products[4].Checksum).To(HaveLen(1))
			Expect(calls).To(Equal(int32(1)))
		})

		It("should follow the next links", func() {
			s, err := client.ProductSearch(odata.Query{Collection: "SENTINEL-2"})
			Expect(err).NotTo(HaveOccurred())
			products, err := s.All(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(HaveLen(45))
			Expect(products[44].Id).To(Equal("44"))
			Expect(calls).To(Equal(int32(3)))
		})

		It("should iterate over pages", func() {
			s, err := client.ProductSearch(odata.Query{Top: 10})
			Expect(err).NotTo(HaveOccurred())
			var sizes []int
			Expect(s.Pages(ctx, func(p []common.Product) error {
				sizes = append(sizes, len(p))
				return nil
			})).To(Succeed())
			Expect(sizes).To(Equal([]int{10, 10, 10, 10, 5}))
		})

		It("should count the hits", func() {
			s, err := client.ProductSearch(odata.Query{Collection: "SENTINEL-2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Hits(ctx)).To(Equal(45))
		})

		It("should return an HTTPError", func() {
			s, err := client.ProductSearch(odata.Query{Name: "fail"})
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Get(ctx, 1)
			var herr *service.HTTPError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.StatusCode).To(Equal(http.StatusBadRequest))
			msg, id := herr.Detail()
			Expect(msg).To(Equal("Invalid filter"))
			Expect(id).To(Equal("123"))
		})
	})

	Context("DeletedProductSearch", func() {
		It("should validate the parameters", func() {
			_, err := client.DeletedProductSearch(odata.Query{Expand: "Assets"})
			Expect(err).To(MatchError(ContainSubstring("Invalid `expand` ")))
			_, err = client.DeletedProductSearch(odata.Query{OrderBy: "DeletionDate"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should filter on deletion fields", func() {
			s, err := client.DeletedProductSearch(odata.Query{DeletionCause: "Missing checksum", DeletionDate: "2023-01-01/"})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Filter()).To(Equal("DeletionDate ge 2023-01-01T00:00:00Z and DeletionCause eq 'Missing checksum'"))
		})
	})

	Context("Product", func() {
		It("should find a product by name", func() {
			p, err := client.Product(ctx, "SENTINEL-2", "P0", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Id).To(Equal("0"))
		})

		It("should return ErrProductNotFound", func() {
			_, err := client.Product(ctx, "", "none", "")
			var nf common.ErrProductNotFound
			Expect(errors.As(err, &nf)).To(BeTrue())
			Expect(nf.Product).To(Equal("none"))
		})
	})

	Context("Attributes", func() {
		It("should fetch the attributes once", func() {
			collections, err := client.Collections(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(collections).To(Equal([]string{"SENTINEL-1", "SENTINEL-2"}))
			Expect(client.AttributeType(ctx, "SENTINEL-2", "cloudCover")).To(Equal("Double"))
			Expect(client.AttributeType(ctx, "SENTINEL-2", "unknown")).To(Equal(""))
			Expect(client.CollectionAttributes(ctx, "SENTINEL-2")).To(Equal([]string{"cloudCover", "relativeOrbitNumber"}))
			Expect(calls).To(Equal(int32(1)))
		})

		It("should reject an unknown collection", func() {
			_, err := client.CollectionAttributes(ctx, "SENTINEL-9")
			Expect(err).To(MatchError(ContainSubstring("Invalid collection: SENTINEL-9")))
		})

		It("should parse attribute expressions", func() {
			f, err := client.ParseAttributeFilter(ctx, "SENTINEL-2", "cloudCover<=10")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.String()).To(Equal("Attributes/OData.CSC.DoubleAttribute/any(att:att/Name eq 'cloudCover' and att/OData.CSC.DoubleAttribute/Value le 10.0)"))
			f, err = client.ParseAttributeFilter(ctx, "SENTINEL-2", "relativeOrbitNumber=8")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.String()).To(Equal("Attributes/OData.CSC.IntegerAttribute/any(att:att/Name eq 'relativeOrbitNumber' and att/OData.CSC.IntegerAttribute/Value eq 8)"))
			_, err = client.ParseAttributeFilter(ctx, "SENTINEL-2", "unknown=8")
			Expect(err).To(HaveOccurred())
			_, err = client.ParseAttributeFilter(ctx, "SENTINEL-2", "cloudCover")
			Expect(err).To(HaveOccurred())
		})
	})
})
