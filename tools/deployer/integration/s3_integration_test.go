package integration

import (
	"context"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gexec"
)

var deploymentIDPattern = regexp.MustCompile(`Deployment ([0-9a-f-]{36}) uploaded`)

var _ = Describe("S3 Integration", func() {
	var (
		env       *localstackEnvironment
		home      string
		localRoot string
		ctx       context.Context
	)

	BeforeEach(func() {
		var err error
		env, err = setupLocalstack()
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
		home = GinkgoT().TempDir()
		localRoot = GinkgoT().TempDir()
		Expect(createSite(localRoot)).To(Succeed())
	})

	AfterEach(func() {
		err := env.teardown()
		Expect(err).NotTo(HaveOccurred())
	})

	It("deploys to a bucket and records the deployment", func() {
		configFile, err := writeConfigFile(home, s3Config(localRoot))
		Expect(err).NotTo(HaveOccurred())

		cmd := deployerCommand(home, env.awsEnv(), "deploy", "--config", configFile)
		session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())
		Eventually(session, 60*time.Second).Should(gexec.Exit(0))

		keys, err := env.listS3Objects(ctx)
		Expect(err).NotTo(HaveOccurred())
		expectedKeys := make([]string, 0, len(siteRemotes))
		for remote := range siteRemotes {
			expectedKeys = append(expectedKeys, strings.TrimPrefix(remote, "/"))
		}
		Expect(keys).To(ConsistOf(expectedKeys))

		body, contentType, err := env.getS3Object(ctx, "site/index.html")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal(siteFiles["dist/index.html"]))
		Expect(contentType).To(HavePrefix("text/html"))

		matches := deploymentIDPattern.FindStringSubmatch(string(session.Out.Contents()))
		Expect(matches).To(HaveLen(2))

		cmd = deployerCommand(home, env.awsEnv(), "history", matches[1], "--config", configFile)
		session, err = gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
		output := string(session.Out.Contents())
		Expect(output).To(ContainSubstring("status: success"))
		Expect(output).To(ContainSubstring("filesUploaded: 5"))
		Expect(output).To(ContainSubstring("/site/demos/story-of-uncertainty/assets/index-abc.js"))
	})

	It("fails history lookups for unknown deployments", func() {
		configFile, err := writeConfigFile(home, s3Config(localRoot))
		Expect(err).NotTo(HaveOccurred())

		// Deploying once creates the table.
		session, err := gexec.Start(deployerCommand(home, env.awsEnv(), "deploy", "--config", configFile), GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())
		Eventually(session, 60*time.Second).Should(gexec.Exit(0))

		session, err = gexec.Start(deployerCommand(home, env.awsEnv(), "history", "missing", "--config", configFile), GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())
		Eventually(session, 30*time.Second).Should(gexec.Exit(1))
		Expect(string(session.Err.Contents())).To(ContainSubstring("deployment missing not found"))
	})
})
