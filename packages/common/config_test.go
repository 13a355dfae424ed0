package common_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"txsim-server/packages/common"
)

var configEnv = []string{
	"PORT",
	"ENV",
	"TXSIM_CONFIG",
	"TXSIM_STORE_DRIVER",
	"TXSIM_STORE_DSN",
	"TXSIM_STORE_LATENCY",
	"TXSIM_TIME_SCALE",
}

var _ = Describe("Config", func() {
	var (
		saved map[string]string
		dir   string
	)

	BeforeEach(func() {
		saved = map[string]string{}
		for _, key := range configEnv {
			if v, ok := os.LookupEnv(key); ok {
				saved[key] = v
			}
			os.Unsetenv(key)
		}

		var err error
		dir, err = os.MkdirTemp("", "txsim-config")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		for _, key := range configEnv {
			os.Unsetenv(key)
		}
		for key, v := range saved {
			os.Setenv(key, v)
		}
		os.RemoveAll(dir)
	})

	writeConfig := func(body string) string {
		path := filepath.Join(dir, "txsim.yaml")
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		return path
	}

	It("falls back to defaults", func() {
		cfg, err := common.LoadConfig("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(common.DefaultConfig()))
		Expect(cfg.Port).To(Equal("19981"))
		Expect(cfg.Store.Driver).To(Equal(common.DriverMemory))
		Expect(cfg.Execution.ProgressTick).To(Equal(100 * time.Millisecond))
		Expect(cfg.Execution.ProgressStep).To(Equal(2))
	})

	It("ignores a missing config file", func() {
		_, err := common.LoadConfig(filepath.Join(dir, "missing.yaml"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reads the YAML file and lets the environment win", func() {
		path := writeConfig(`
port: "2000"
store:
  driver: sqlite
  latency: 250ms
stream:
  time_scale: 0.5
`)
		os.Setenv("PORT", "3000")

		cfg, err := common.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Port).To(Equal("3000"))
		Expect(cfg.Store.Driver).To(Equal(common.DriverSQLite))
		Expect(cfg.Store.DSN).To(Equal(common.DefaultSQLiteDSN))
		Expect(cfg.Store.Latency).To(Equal(250 * time.Millisecond))
		Expect(cfg.Stream.TimeScale).To(Equal(0.5))
	})

	It("finds the file through TXSIM_CONFIG", func() {
		os.Setenv("TXSIM_CONFIG", writeConfig(`env: local`))

		cfg, err := common.LoadConfig("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Env).To(Equal("local"))
	})

	It("parses typed environment overrides", func() {
		os.Setenv("TXSIM_STORE_LATENCY", "500ms")
		os.Setenv("TXSIM_TIME_SCALE", "0.01")

		cfg, err := common.LoadConfig("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Store.Latency).To(Equal(500 * time.Millisecond))
		Expect(cfg.Stream.TimeScale).To(Equal(0.01))

		os.Setenv("TXSIM_TIME_SCALE", "fast")
		_, err = common.LoadConfig("")
		Expect(err).To(MatchError(ContainSubstring("TXSIM_TIME_SCALE")))
	})

	It("rejects invalid settings", func() {
		_, err := common.LoadConfig(writeConfig(`{store: {driver: postgres}}`))
		Expect(err).To(MatchError(ContainSubstring("unknown store driver")))

		_, err = common.LoadConfig(writeConfig(`{stream: {time_scale: 0}}`))
		Expect(err).To(HaveOccurred())

		_, err = common.LoadConfig(writeConfig(`port: [`))
		Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
	})

	It("dumps the effective configuration as YAML", func() {
		data, err := common.DefaultConfig().Dump()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("driver: memory"))
		Expect(string(data)).To(ContainSubstring("progress_tick: 100ms"))
	})
})
