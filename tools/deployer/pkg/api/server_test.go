package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/api"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/rotisserie/eris"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// blockingDeployer finishes a deployment each time release is signalled.
type blockingDeployer struct {
	release chan struct{}
	err     error
}

func (b *blockingDeployer) Deploy(ctx context.Context) (*deployer.Report, error) {
	<-b.release
	report := &deployer.Report{
		DeploymentID: "6f1c3a52-5b0e-4a4e-9d52-0d5a2b8c4e11",
		Target:       "ftp://deploy@127.0.0.1:21/site",
		RemoteRoot:   "/site",
		StartedAt:    time.Now().Add(-time.Second),
		FinishedAt:   time.Now(),
		Files: []deployer.Transfer{
			{Local: "dist/index.html", Remote: "/site/index.html", Size: 100},
			{Local: "dist/app.js", Remote: "/site/app.js", Size: 250},
		},
		Err: b.err,
	}
	return report, b.err
}

func (b *blockingDeployer) Plan(ctx context.Context) ([]deployer.Transfer, error) {
	return nil, nil
}

var _ = Describe("Server", func() {
	var (
		fake   *blockingDeployer
		server *api.Server
		ts     *httptest.Server
	)

	BeforeEach(func() {
		fake = &blockingDeployer{release: make(chan struct{})}
		server = api.NewServer(0, fake)
		ts = httptest.NewServer(server.Handler())
		DeferCleanup(ts.Close)
	})

	getStatus := func() api.StatusResponse {
		resp, err := http.Get(ts.URL + "/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var status api.StatusResponse
		Expect(json.NewDecoder(resp.Body).Decode(&status)).To(Succeed())
		return status
	}

	It("reports healthy", func() {
		resp, err := http.Get(ts.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
	})

	It("rejects the wrong method", func() {
		resp, err := http.Get(ts.URL + "/deploy")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
	})

	It("starts one deployment at a time", func() {
		resp, err := http.Post(ts.URL+"/deploy", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		Expect(getStatus().IsRunning).To(BeTrue())

		resp, err = http.Post(ts.URL+"/deploy", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		var body api.DeployResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body.Success).To(BeFalse())

		close(fake.release)
		Eventually(server.Done()).Should(Receive())

		status := getStatus()
		Expect(status.IsRunning).To(BeFalse())
		Expect(status.LastDeploymentID).To(Equal("6f1c3a52-5b0e-4a4e-9d52-0d5a2b8c4e11"))
		Expect(status.LastStatus).To(Equal(deployer.StatusSuccess))
		Expect(status.FilesUploaded).To(Equal(2))
		Expect(status.BytesUploaded).To(Equal(int64(350)))
		Expect(status.LastError).To(BeEmpty())
	})

	It("reports the last failure", func() {
		fake.err = eris.New("failed to connect to 127.0.0.1:21")
		close(fake.release)

		resp, err := http.Post(ts.URL+"/deploy", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Eventually(server.Done()).Should(Receive())

		status := getStatus()
		Expect(status.LastStatus).To(Equal(deployer.StatusFailed))
		Expect(status.LastError).To(ContainSubstring("failed to connect"))
	})
})
