package storage_test

import (
	"context"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("S3", func() {
	DescribeTable("objectKey",
		func(p, expected string) {
			Expect(storage.ObjectKey(p)).To(Equal(expected))
		},
		Entry("absolute", "/site/index.html", "site/index.html"),
		Entry("unclean", "/site//assets/../index.html", "site/index.html"),
		Entry("root", "/", ""),
	)

	It("requires Connect before any operation", func() {
		GinkgoT().Setenv("AWS_REGION", "us-east-1")
		GinkgoT().Setenv("AWS_ACCESS_KEY_ID", "test")
		GinkgoT().Setenv("AWS_SECRET_ACCESS_KEY", "test")

		ctx := context.Background()
		s, err := storage.NewS3Storage(ctx, storage.S3Config{Enabled: true, Bucket: "site"})
		Expect(err).ToNot(HaveOccurred())

		Expect(s.ChangeDir(ctx, "/")).To(MatchError(pkgerrors.NotConnectedError))
		Expect(s.MakeDir(ctx, "/a")).To(MatchError(pkgerrors.NotConnectedError))
		_, err = s.Stat(ctx, "/a")
		Expect(err).To(MatchError(pkgerrors.NotConnectedError))
	})
})

var _ = Describe("S3 against LocalStack", func() {
	var (
		ctx   context.Context
		local string
	)

	BeforeEach(func() {
		ctx = context.Background()
		local = GinkgoT().TempDir()

		container := createLocalstackContainer("s3")
		DeferCleanup(terminateContainer, container)
		setAwsEnv(getContainerEndpoint(container))
		DeferCleanup(unsetAwsEnv)
	})

	It("fails to connect to a missing bucket unless asked to create it", func() {
		s, err := storage.NewS3Storage(ctx, storage.S3Config{Enabled: true, Bucket: "site"})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Connect(ctx)).To(MatchError(pkgerrors.RemoteNotFoundError))
	})

	It("uploads under the working directory prefix", func() {
		s, err := storage.NewS3Storage(ctx, storage.S3Config{Enabled: true, Bucket: "site", CreateMissingResources: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Connect(ctx)).To(Succeed())
		DeferCleanup(s.Close)

		Expect(storage.EnsureDirAll(ctx, s, "/dashboard/assets")).To(Succeed())
		Expect(s.ChangeDir(ctx, "/dashboard")).To(Succeed())
		Expect(s.Store(ctx, "index.html", writeLocalFile(local, "index.html", "<html></html>"))).To(Succeed())

		entry, err := s.Stat(ctx, "/dashboard/index.html")
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.IsDir).To(BeFalse())
		Expect(entry.Size).To(Equal(int64(len("<html></html>"))))

		entry, err = s.Stat(ctx, "/dashboard")
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.IsDir).To(BeTrue())

		_, err = s.Stat(ctx, "/dashboard/missing.js")
		Expect(err).To(MatchError(pkgerrors.RemoteNotFoundError))

		// A file occupies the key, so it cannot become a prefix.
		Expect(storage.EnsureDir(ctx, s, "index.html")).To(MatchError(pkgerrors.NotADirectoryError))
	})
})
