package downloader_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/downloader"
	"github.com/airbusgeo/cdse-dl/interface/auth"
	"github.com/airbusgeo/cdse-dl/interface/auth/authtest"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/zeebo/blake3"
)

const md5TenZeros = "a63c90cc3684ad8b0a2176a6a8fe9005"

// countingWriter counts the bytes of product content sent by the server.
// Bodies of non-2xx answers are not content and are not counted.
type countingWriter struct {
	http.ResponseWriter
	status int
	n      *int64
	mu     *sync.Mutex
}

func (w *countingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.status == 0 || (w.status >= 200 && w.status < 300) {
		w.mu.Lock()
		*w.n += int64(len(p))
		w.mu.Unlock()
	}
	return w.ResponseWriter.Write(p)
}

// contentServer serves the content of products by id, honoring Range requests
type contentServer struct {
	*httptest.Server
	mu       sync.Mutex
	contents map[string][]byte
	failures map[string]int
	sent     int64
	ranges   []string
}

func newContentServer() *contentServer {
	cs := &contentServer{contents: map[string][]byte{}, failures: map[string]int{}}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/odata/v1/Products("), ")/$value")
		cs.mu.Lock()
		content, ok := cs.contents[id]
		status := cs.failures[id]
		cs.ranges = append(cs.ranges, r.Header.Get("Range"))
		cs.mu.Unlock()
		switch {
		case status != 0:
			w.WriteHeader(status)
			w.Write([]byte(`{"detail":{"message":"failure","request_id":"42"}}`))
			return
		case !ok:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+id+".zip")
		http.ServeContent(&countingWriter{ResponseWriter: w, n: &cs.sent, mu: &cs.mu}, r, "", time.Time{}, bytes.NewReader(content))
	}))
	return cs
}

func (cs *contentServer) add(content []byte) string {
	id := uuid.New().String()
	cs.mu.Lock()
	cs.contents[id] = content
	cs.mu.Unlock()
	return id
}

func (cs *contentServer) fail(id string, status int) {
	cs.mu.Lock()
	cs.failures[id] = status
	cs.mu.Unlock()
}

func (cs *contentServer) bytesSent() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sent
}

func (cs *contentServer) lastRange() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.ranges[len(cs.ranges)-1]
}

var _ = Describe("Downloader", func() {
	var (
		ctx      context.Context
		identity *authtest.Identity
		server   *contentServer
		session  *auth.Session
		dl       *downloader.Downloader
		dir      string
		content  []byte
		product  common.Product
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		identity = authtest.NewIdentity("user", "pwd")
		server = newContentServer()
		session, err = identity.NewSession(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		dl = downloader.New(session, downloader.WithBaseURL(server.URL+"/odata/v1"))
		dir, err = os.MkdirTemp("", "cdse")
		Expect(err).NotTo(HaveOccurred())

		content = make([]byte, 10)
		product = common.Product{
			Id:            server.add(content),
			Name:          "S2A_MSIL1C_20230101T000000_N0509_R000_T00XXX_20230101T000000.SAFE.zip",
			ContentLength: 10,
			Checksum:      []common.Checksum{{Algorithm: "MD5", Value: md5TenZeros}},
		}
	})

	AfterEach(func() {
		server.Close()
		identity.Close()
		os.RemoveAll(dir)
	})

	path := func() string { return filepath.Join(dir, product.Name) }

	Context("when the file does not exist", func() {
		It("should download and verify it", func() {
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
			Expect(res.Path).To(Equal(path()))
			Expect(os.ReadFile(path())).To(Equal(content))
			Expect(server.lastRange()).To(BeEmpty())
		})

		It("should accept an uppercase checksum", func() {
			product.Checksum[0].Value = strings.ToUpper(md5TenZeros)
			_, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should verify the BLAKE3 checksum first", func() {
			sum := blake3.Sum256(content)
			product.Checksum = []common.Checksum{
				{Algorithm: "MD5", Value: "00000000000000000000000000000000"},
				{Algorithm: "BLAKE3", Value: hex.EncodeToString(sum[:])},
			}
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
		})

		It("should succeed without checksum", func() {
			product.Checksum = nil
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
		})
	})

	Context("when the file is complete", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(path(), content, 0644)).To(Succeed())
		})

		It("should skip it without reading the body", func() {
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusSKIPPED))
			Expect(server.bytesSent()).To(BeZero())
			Expect(server.lastRange()).To(Equal("bytes=10-"))
			Expect(os.ReadFile(path())).To(Equal(content))
		})

		It("should skip it even if the size is unknown to the catalogue", func() {
			product.ContentLength = 0
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusSKIPPED))
		})
	})

	Context("when the file is partial", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(path(), content[:4], 0644)).To(Succeed())
		})

		It("should resume the download", func() {
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
			Expect(server.lastRange()).To(Equal("bytes=4-"))
			Expect(server.bytesSent()).To(Equal(int64(6)))
			Expect(os.ReadFile(path())).To(Equal(content))
		})
	})

	Context("when the file is larger than the remote one", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(path(), make([]byte, 20), 0644)).To(Succeed())
		})

		It("should restart from the beginning", func() {
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
			Expect(server.lastRange()).To(BeEmpty())
			Expect(os.ReadFile(path())).To(Equal(content))
		})
	})

	Context("when the product is empty", func() {
		BeforeEach(func() {
			product.Id = server.add([]byte{})
			product.ContentLength = 0
			product.Checksum = []common.Checksum{{Algorithm: "MD5", Value: "d41d8cd98f00b204e9800998ecf8427e"}}
		})

		It("should create an empty file", func() {
			res, err := dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
			info, err := os.Stat(path())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Size()).To(BeZero())

			res, err = dl.Download(ctx, product, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusSKIPPED))
		})
	})

	Context("when the range is rejected without Content-Range", func() {
		var rejecting *httptest.Server

		BeforeEach(func() {
			rejecting = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				w.Write([]byte("invalid range"))
			}))
			dl = downloader.New(session, downloader.WithBaseURL(rejecting.URL+"/odata/v1"))
			Expect(os.WriteFile(path(), content[:4], 0644)).To(Succeed())
		})

		AfterEach(func() {
			rejecting.Close()
		})

		It("should fail without touching the partial file", func() {
			res, err := dl.Download(ctx, product, dir)
			var herr *service.HTTPError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.StatusCode).To(Equal(http.StatusRequestedRangeNotSatisfiable))
			Expect(res.Status).To(Equal(common.StatusFAILED))
			Expect(os.ReadFile(path())).To(Equal(content[:4]))
		})
	})

	Context("when no checksum is supported", func() {
		BeforeEach(func() {
			product.Checksum = []common.Checksum{{Algorithm: "CRC32", Value: "deadbeef"}}
		})

		It("should fail and keep the file", func() {
			res, err := dl.Download(ctx, product, dir)
			Expect(errors.Is(err, downloader.ErrNoChecksum)).To(BeTrue())
			Expect(service.Temporary(err)).To(BeFalse())
			Expect(res.Status).To(Equal(common.StatusFAILED))
			Expect(path()).To(BeAnExistingFile())
		})

		It("should succeed when verification is disabled", func() {
			res, err := dl.Download(ctx, product, dir, downloader.Verify(false))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
		})
	})

	Context("when the product is an archive", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			_, err := zw.Create("S2A.SAFE/")
			Expect(err).NotTo(HaveOccurred())
			f, err := zw.Create("S2A.SAFE/manifest.safe")
			Expect(err).NotTo(HaveOccurred())
			_, err = f.Write([]byte("<manifest/>"))
			Expect(err).NotTo(HaveOccurred())
			Expect(zw.Close()).To(Succeed())

			product.Id = server.add(buf.Bytes())
			product.Name = "S2A.SAFE.zip"
			product.ContentLength = int64(buf.Len())
			product.Checksum = nil
		})

		It("should extract it and keep the archive", func() {
			res, err := dl.Download(ctx, product, dir, downloader.Unarchive(true))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
			Expect(os.ReadFile(filepath.Join(dir, "S2A.SAFE", "manifest.safe"))).To(Equal([]byte("<manifest/>")))
			Expect(path()).To(BeAnExistingFile())
			entries, err := os.ReadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})
	})

	Context("when the checksum does not match", func() {
		BeforeEach(func() {
			product.Checksum = []common.Checksum{{Algorithm: "MD5", Value: "ffffffffffffffffffffffffffffffff"}}
		})

		It("should return an IntegrityError and keep the file", func() {
			res, err := dl.Download(ctx, product, dir)
			var ierr *service.IntegrityError
			Expect(errors.As(err, &ierr)).To(BeTrue())
			Expect(ierr.Expected).To(Equal("ffffffffffffffffffffffffffffffff"))
			Expect(ierr.Actual).To(Equal(md5TenZeros))
			Expect(res.Status).To(Equal(common.StatusFAILED))
			Expect(path()).To(BeAnExistingFile())
		})
	})

	Context("when the server fails", func() {
		It("should flag a 503 as retriable", func() {
			server.fail(product.Id, http.StatusServiceUnavailable)
			res, err := dl.Download(ctx, product, dir)
			Expect(err).To(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusRETRY))
			var herr *service.HTTPError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})

		It("should flag a 404 as failed", func() {
			server.fail(product.Id, http.StatusNotFound)
			res, err := dl.Download(ctx, product, dir)
			Expect(err).To(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusFAILED))
		})
	})

	It("should reject a product name escaping the directory", func() {
		product.Name = "../evil.zip"
		_, err := dl.Download(ctx, product, dir)
		Expect(err).To(HaveOccurred())
	})

	Context("DownloadAll", func() {
		It("should return one result per product in order", func() {
			var products []common.Product
			for i := 0; i < 5; i++ {
				p := product
				p.Id = server.add(content)
				p.Name = uuid.New().String() + ".zip"
				products = append(products, p)
			}
			server.fail(products[2].Id, http.StatusNotFound)

			results := dl.DownloadAll(ctx, products, dir)
			Expect(results).To(HaveLen(5))
			for i, r := range results {
				Expect(r.Product.Id).To(Equal(products[i].Id))
				if i == 2 {
					Expect(r.Err).To(HaveOccurred())
					Expect(r.Status).To(Equal(common.StatusFAILED))
					continue
				}
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Status).To(Equal(common.StatusDONE))
				Expect(os.ReadFile(r.Path)).To(Equal(content))
			}
		})

		It("should report a checksum mismatch for one product only", func() {
			var products []common.Product
			for i := 0; i < 5; i++ {
				p := product
				p.Id = server.add(content)
				p.Name = uuid.New().String() + ".zip"
				products = append(products, p)
			}
			products[2].Checksum = []common.Checksum{{Algorithm: "MD5", Value: "ffffffffffffffffffffffffffffffff"}}

			results := dl.DownloadAll(ctx, products, dir)
			Expect(results).To(HaveLen(5))
			for i, r := range results {
				Expect(r.Product.Id).To(Equal(products[i].Id))
				if i == 2 {
					var ierr *service.IntegrityError
					Expect(errors.As(r.Err, &ierr)).To(BeTrue())
					Expect(r.Status).To(Equal(common.StatusFAILED))
					Expect(r.Path).To(BeAnExistingFile())
					continue
				}
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Status).To(Equal(common.StatusDONE))
			}
		})

		It("should return an empty list without products", func() {
			Expect(dl.DownloadAll(ctx, nil, dir)).To(BeEmpty())
		})
	})

	Context("DownloadAsset", func() {
		var (
			assets        *httptest.Server
			authorization string
			status        int
		)

		BeforeEach(func() {
			authorization, status = "", http.StatusOK
			assets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					authorization = r.Header.Get("Authorization")
				}
				if status != http.StatusOK {
					w.WriteHeader(status)
					return
				}
				http.ServeContent(w, r, "quicklook.jpg", time.Time{}, bytes.NewReader([]byte("jpeg")))
			}))
		})

		AfterEach(func() {
			assets.Close()
		})

		It("should download the asset with the bearer token", func() {
			asset := common.Asset{Type: "QUICKLOOK", Id: "ql", DownloadLink: assets.URL + "/quicklook.jpg"}
			file, err := dl.DownloadAsset(ctx, asset, filepath.Join(dir, "assets"))
			Expect(err).NotTo(HaveOccurred())
			Expect(file).To(Equal(filepath.Join(dir, "assets", "quicklook.jpg")))
			Expect(os.ReadFile(file)).To(Equal([]byte("jpeg")))
			Expect(authorization).To(HavePrefix("Bearer "))
		})

		It("should flag a 503 as retriable", func() {
			status = http.StatusServiceUnavailable
			asset := common.Asset{Type: "QUICKLOOK", Id: "ql", DownloadLink: assets.URL + "/quicklook.jpg"}
			_, err := dl.DownloadAsset(ctx, asset, dir)
			Expect(err).To(HaveOccurred())
			Expect(service.Temporary(err)).To(BeTrue())
		})

		It("should reject an asset without link", func() {
			_, err := dl.DownloadAsset(ctx, common.Asset{Id: "ql"}, dir)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("DownloadFromName", func() {
		It("should resolve the product in the catalogue", func() {
			resolver := &fakeResolver{products: map[string]common.Product{product.Name: product}}
			dl = downloader.New(session, downloader.WithBaseURL(server.URL+"/odata/v1"), downloader.WithResolver(resolver))
			res, err := dl.DownloadFromName(ctx, "", product.Name, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(common.StatusDONE))
			Expect(resolver.collection).To(Equal("SENTINEL-2"))
		})

		It("should fail for an unknown product", func() {
			dl = downloader.New(session, downloader.WithBaseURL(server.URL+"/odata/v1"), downloader.WithResolver(&fakeResolver{}))
			_, err := dl.DownloadFromName(ctx, "SENTINEL-2", "S2B_unknown", dir)
			var nf common.ErrProductNotFound
			Expect(errors.As(err, &nf)).To(BeTrue())
		})

		It("should fail without catalogue", func() {
			_, err := dl.DownloadFromID(ctx, "SENTINEL-2", product.Id, dir)
			Expect(err).To(HaveOccurred())
		})
	})
})

type fakeResolver struct {
	products   map[string]common.Product
	collection string
}

func (r *fakeResolver) Product(ctx context.Context, collection, name, id string) (common.Product, error) {
	r.collection = collection
	if p, ok := r.products[name]; ok {
		return p, nil
	}
	return common.Product{}, common.ErrProductNotFound{Product: name}
}
