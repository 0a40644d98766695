package deployer_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage/ftptest"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/rotisserie/eris"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeTree(root string, files map[string]string) {
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		Expect(os.MkdirAll(filepath.Dir(p), 0o755)).To(Succeed())
		Expect(os.WriteFile(p, []byte(content), 0o644)).To(Succeed())
	}
}

func siteConfig(localRoot string) deployer.Config {
	return deployer.Config{
		LocalRoot: localRoot,
		Target: deployer.Target{
			RemoteRoot:    "/site",
			CreateParents: true,
			FTP: storage.FTPConfig{
				Enabled:  true,
				Host:     "127.0.0.1",
				Username: "deploy",
				Password: "secret",
			},
		},
		Directories: []string{"assets", "demos"},
		Uploads: []deployer.Upload{
			{Local: "dist/index.html", Remote: "index.html"},
			{Local: "dist/assets/index-abc.js", Remote: "assets/index-abc.js"},
			{Local: "dist/demos/story", Remote: "demos/story"},
		},
	}
}

var _ = Describe("Deployer", func() {
	var (
		ctx       context.Context
		localRoot string
		remote    *fakeStorage
		cfg       deployer.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		localRoot = GinkgoT().TempDir()
		writeTree(localRoot, map[string]string{
			"dist/index.html":                   "<html>dashboard</html>",
			"dist/assets/index-abc.js":          "console.log('dashboard')",
			"dist/demos/story/index.html":       "<html>story</html>",
			"dist/demos/story/assets/app.js":    "console.log('story')",
			"dist/demos/story/assets/style.css": "body{}",
		})
		remote = newFakeStorage()
		cfg = siteConfig(localRoot)
	})

	newDeployer := func(opts ...deployer.Option) deployer.Deployer {
		d, err := deployer.NewDeployer(ctx, cfg, append([]deployer.Option{deployer.WithStorage(remote)}, opts...)...)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	It("rejects an invalid config", func() {
		cfg.Uploads = nil
		_, err := deployer.NewDeployer(ctx, cfg, deployer.WithStorage(remote))
		Expect(err).To(HaveOccurred())
	})

	It("uploads every transfer in order", func() {
		report, err := newDeployer().Deploy(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(remote.stored).To(Equal([]string{
			"/site/index.html",
			"/site/assets/index-abc.js",
			"/site/demos/story/index.html",
			"/site/demos/story/assets/app.js",
			"/site/demos/story/assets/style.css",
		}))
		Expect(string(remote.files["/site/demos/story/assets/app.js"])).To(Equal("console.log('story')"))
		Expect(remote.closed).To(BeTrue())

		Expect(report.Status()).To(Equal(deployer.StatusSuccess))
		Expect(report.Directories).To(Equal([]string{"/site/assets", "/site/demos"}))
		Expect(report.Files).To(HaveLen(5))
		Expect(report.Files[0]).To(Equal(deployer.Transfer{
			Local:  filepath.Join(localRoot, "dist", "index.html"),
			Remote: "/site/index.html",
			Size:   int64(len("<html>dashboard</html>")),
		}))
		Expect(report.BytesUploaded()).To(BeNumerically(">", 0))
		Expect(report.DeploymentID).NotTo(BeEmpty())
		Expect(report.FinishedAt).NotTo(BeTemporally("<", report.StartedAt))
	})

	It("mirrors nested directories", func() {
		writeTree(localRoot, map[string]string{
			"a/b.txt":     "b",
			"a/sub/c.txt": "c",
		})
		cfg.Directories = nil
		cfg.Uploads = []deployer.Upload{{Local: "a", Remote: "a"}}

		_, err := newDeployer().Deploy(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(remote.stored).To(Equal([]string{"/site/a/b.txt", "/site/a/sub/c.txt"}))
		Expect(string(remote.files["/site/a/sub/c.txt"])).To(Equal("c"))
	})

	DescribeTable("keeps the base name of a file sent to the remote root",
		func(target string) {
			cfg.Directories = nil
			cfg.Uploads = []deployer.Upload{{Local: "dist/index.html", Remote: target}}

			report, err := newDeployer().Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(remote.stored).To(Equal([]string{"/site/index.html"}))
			Expect(report.Files[0].Remote).To(Equal("/site/index.html"))

			transfers, err := newDeployer().Plan(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(transfers[0].Remote).To(Equal("/site/index.html"))
		},
		Entry("dot", "."),
		Entry("dot with slash", "./"),
		Entry("path that cleans to dot", "x/.."),
	)

	It("uploads a directory sent to the remote root into the root", func() {
		cfg.Directories = nil
		cfg.Uploads = []deployer.Upload{{Local: "dist/demos/story", Remote: "."}}

		_, err := newDeployer().Deploy(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(remote.stored).To(ContainElement("/site/index.html"))
		Expect(remote.stored).To(ContainElement("/site/assets/app.js"))
	})

	It("stops at the first missing local file", func() {
		cfg.Uploads = []deployer.Upload{
			{Local: "dist/index.html", Remote: "index.html"},
			{Local: "dist/assets/missing.js", Remote: "assets/missing.js"},
			{Local: "dist/assets/index-abc.js", Remote: "assets/index-abc.js"},
		}

		report, err := newDeployer().Deploy(ctx)
		Expect(err).To(MatchError(pkgerrors.LocalFileMissingError))
		Expect(remote.stored).To(Equal([]string{"/site/index.html"}))
		Expect(remote.closed).To(BeTrue())

		Expect(report.Status()).To(Equal(deployer.StatusFailed))
		Expect(report.Files).To(HaveLen(1))
		Expect(report.Err).To(MatchError(pkgerrors.LocalFileMissingError))
	})

	It("reaches the same end state when run twice", func() {
		d := newDeployer()
		_, err := d.Deploy(ctx)
		Expect(err).NotTo(HaveOccurred())
		made := append([]string{}, remote.made...)
		firstFiles := map[string]string{}
		for k, v := range remote.files {
			firstFiles[k] = string(v)
		}

		_, err = d.Deploy(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(remote.made).To(Equal(made))
		Expect(remote.files).To(HaveLen(len(firstFiles)))
		for k, v := range remote.files {
			Expect(string(v)).To(Equal(firstFiles[k]))
		}
	})

	It("refuses to upload into a remote file posing as a directory", func() {
		remote.dirs["/site"] = struct{}{}
		remote.files["/site/assets"] = []byte("oops")

		_, err := newDeployer().Deploy(ctx)
		Expect(err).To(MatchError(pkgerrors.NotADirectoryError))
		Expect(remote.stored).To(BeEmpty())
	})

	It("fails when the host cannot be reached", func() {
		remote.connectErr = eris.New("dial tcp 127.0.0.1:21: connect: connection refused")

		report, err := newDeployer().Deploy(ctx)
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(remote.closed).To(BeFalse())
		Expect(report.Status()).To(Equal(deployer.StatusFailed))
		Expect(report.Files).To(BeEmpty())
	})

	When("parents are not created", func() {
		BeforeEach(func() {
			cfg.Target.CreateParents = false
		})

		It("fails on a missing remote root", func() {
			_, err := newDeployer().Deploy(ctx)
			Expect(err).To(MatchError(pkgerrors.RemoteNotFoundError))
			Expect(remote.made).To(BeEmpty())
		})

		It("creates only the configured directories", func() {
			remote.dirs["/site"] = struct{}{}

			_, err := newDeployer().Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(remote.made).To(Equal([]string{
				"/site/assets",
				"/site/demos",
				"/site/demos/story",
				"/site/demos/story/assets",
			}))
		})
	})

	It("reports progress for every uploaded file", func() {
		var seen []string
		d := newDeployer(deployer.WithProgress(func(t deployer.Transfer) {
			seen = append(seen, t.Remote)
		}))

		_, err := d.Deploy(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal(remote.stored))
	})

	Describe("history", func() {
		It("records successful deployments", func() {
			history := &fakeHistory{}
			report, err := newDeployer(deployer.WithHistory(history)).Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(history.records).To(HaveLen(1))
			record := history.records[0]
			Expect(record.DeploymentID).To(Equal(report.DeploymentID))
			Expect(record.Status).To(Equal(deployer.StatusSuccess))
			Expect(record.FilesUploaded).To(Equal(5))
			Expect(record.BytesUploaded).To(Equal(report.BytesUploaded()))
			Expect(record.Error).To(BeEmpty())
		})

		It("records failed deployments with the error", func() {
			history := &fakeHistory{}
			remote.connectErr = eris.New("connection refused")

			_, err := newDeployer(deployer.WithHistory(history)).Deploy(ctx)
			Expect(err).To(HaveOccurred())
			Expect(history.records).To(HaveLen(1))
			Expect(history.records[0].Status).To(Equal(deployer.StatusFailed))
			Expect(history.records[0].Error).To(ContainSubstring("connection refused"))
		})

		It("fails a successful deployment that cannot be recorded", func() {
			history := &fakeHistory{err: eris.New("table gone")}

			report, err := newDeployer(deployer.WithHistory(history)).Deploy(ctx)
			Expect(err).To(MatchError(ContainSubstring("table gone")))
			Expect(report.Files).To(HaveLen(5))
		})
	})

	Describe("Plan", func() {
		It("lists the transfers without connecting", func() {
			transfers, err := newDeployer().Plan(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(remote.connected).To(BeFalse())

			remotes := make([]string, 0, len(transfers))
			for _, t := range transfers {
				remotes = append(remotes, t.Remote)
			}
			Expect(remotes).To(Equal([]string{
				"/site/index.html",
				"/site/assets/index-abc.js",
				"/site/demos/story/index.html",
				"/site/demos/story/assets/app.js",
				"/site/demos/story/assets/style.css",
			}))
			Expect(transfers[0].Size).To(Equal(int64(len("<html>dashboard</html>"))))
			Expect(transfers[0].Type()).To(Equal(fs.Document))
			Expect(transfers[4].Type()).To(Equal(fs.Stylesheet))
		})

		It("fails on a missing local path", func() {
			cfg.Uploads = append(cfg.Uploads, deployer.Upload{Local: "dist/gone", Remote: "gone"})
			_, err := newDeployer().Plan(ctx)
			Expect(err).To(MatchError(pkgerrors.LocalFileMissingError))
		})
	})

	Describe("against an FTP server", func() {
		var server *ftptest.Server

		BeforeEach(func() {
			var err error
			server, err = ftptest.NewServer("deploy", "secret")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(server.Close)

			cfg.Target.FTP.Host = server.Host()
			cfg.Target.FTP.Port = server.Port()
			cfg.Target.FTP.Timeout = 5 * time.Second
		})

		It("leaves every file at its remote path", func() {
			d, err := deployer.NewDeployer(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())

			report, err := d.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Files).To(HaveLen(5))

			for _, t := range report.Files {
				expected, err := os.ReadFile(t.Local)
				Expect(err).NotTo(HaveOccurred())
				actual, err := server.ReadFile(t.Remote)
				Expect(err).NotTo(HaveOccurred())
				Expect(actual).To(Equal(expected))
			}

			_, err = d.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("stores a file sent to the remote root under its own name", func() {
			cfg.Uploads = []deployer.Upload{{Local: "dist/index.html", Remote: "."}}
			d, err := deployer.NewDeployer(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())

			report, err := d.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Files).To(HaveLen(1))
			Expect(report.Files[0].Remote).To(Equal("/site/index.html"))

			data, err := server.ReadFile("/site/index.html")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("<html>dashboard</html>"))
		})

		It("fails with a bad password", func() {
			cfg.Target.FTP.Password = "wrong"
			d, err := deployer.NewDeployer(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.Deploy(ctx)
			Expect(err).To(MatchError(ContainSubstring("failed to log in")))
		})
	})
})
