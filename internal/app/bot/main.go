package bot

import (
	"os"

	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/transponster/bot/internal/app/collector"
	"github.com/transponster/bot/internal/app/pipeline"
	"github.com/transponster/bot/internal/app/translate"
	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/drive"
	"github.com/transponster/bot/internal/pkg/llm"
	"github.com/transponster/bot/internal/pkg/mapping"
	"github.com/transponster/bot/internal/pkg/metrics"
	"github.com/transponster/bot/internal/pkg/slack"
	"github.com/transponster/bot/internal/pkg/transcriber"
	"github.com/transponster/bot/internal/pkg/translator"
)

var rootCmd = &cobra.Command{
	Use:   "botService",
	Short: "Transponster Transcription Bot Service",
	Long:  `HTTP server to listen for Slack callbacks and transcribe shared media files`,
	Run:   run,
}

func init() {
	cmdapp.InitApplication(rootCmd)
	rootCmd.PersistentFlags().Int32P("port", "", 3000, "Default service port")
	cmdapp.Config.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	cmdapp.Config.SetDefault("port", 3000)
	cmdapp.Config.SetDefault("workDir.path", "/data/work/")
	cmdapp.Config.SetDefault("mapping.file", "/data/file_mappings.json")
	cmdapp.Config.SetDefault("translator.target", "English")
	cmdapp.Config.SetDefault("home.url", "https://github.com/transponster/bot")
}

// Execute starts the server
func Execute() {
	cmdapp.Execute(rootCmd)
}

func run(cmd *cobra.Command, args []string) {
	cmdapp.Log.Info("Starting botService")
	data := &ServiceData{}
	err := initMetrics(data)
	cmdapp.CheckOrPanic(err, "Can't init metrics")
	data.health = healthcheck.NewHandler()

	sc, err := slack.NewClient()
	cmdapp.CheckOrPanic(err, "Can't init slack client")

	workDir := cmdapp.Config.GetString("workDir.path")
	err = os.MkdirAll(workDir, 0755)
	cmdapp.CheckOrPanic(err, "Can't init work dir")
	data.health.AddLivenessCheck("workDir", func() error { return checkDir(workDir) })

	asr, err := transcriber.NewClient()
	cmdapp.CheckOrPanic(err, "Can't init transcriber")
	retrying, err := transcriber.NewRetryingClient(asr)
	cmdapp.CheckOrPanic(err, "Can't init transcriber retry")

	pd := &pipeline.ServiceData{
		Files: sc, Msg: sc, Actions: sc, Uploader: sc, Downloader: sc,
		Transcriber: retrying, Users: sc, WorkDir: workDir,
	}
	td := &translate.ServiceData{
		Files: sc, Msg: sc, Uploader: sc, Downloader: sc, WorkDir: workDir,
	}

	llmClient, err := llm.NewClient()
	if errors.Is(err, llm.ErrNotConfigured) {
		cmdapp.Log.Warn("No llm.key provided, translation and cleanup are off")
	} else {
		cmdapp.CheckOrPanic(err, "Can't init llm client")
		td.Translator, err = translator.NewTranslateEngine(llmClient, cmdapp.Config.GetString("translator.target"))
		cmdapp.CheckOrPanic(err, "Can't init translate engine")
		td.Cleaner, err = translator.NewCleanupEngine(llmClient)
		cmdapp.CheckOrPanic(err, "Can't init cleanup engine")
	}

	if cmdapp.Config.GetString("drive.url") != "" {
		driveClient, err := drive.NewClient()
		cmdapp.CheckOrPanic(err, "Can't init drive client")
		pd.Archiver = driveClient
		td.Archive = driveClient
		store, err := mapping.NewStore(cmdapp.Config.GetString("mapping.file"))
		cmdapp.CheckOrPanic(err, "Can't init mapping store")
		pd.Mappings = store
		td.Mappings = store
	} else {
		cmdapp.Log.Warn("No drive.url provided, archival is off")
	}

	pipe, err := pipeline.NewService(pd)
	cmdapp.CheckOrPanic(err, "Can't init pipeline")
	data.Actions, err = translate.NewService(td)
	cmdapp.CheckOrPanic(err, "Can't init translate service")
	data.Events, err = collector.NewCollector(pipe, sc, threadResolver{files: sc})
	cmdapp.CheckOrPanic(err, "Can't init collector")

	data.SigningSecret = cmdapp.Config.GetString("slack.signing.secret")
	if data.SigningSecret == "" {
		cmdapp.Log.Warn("No slack.signing.secret provided, request signatures are not checked")
	}
	data.HomeURL = cmdapp.Config.GetString("home.url")
	data.Port = cmdapp.Config.GetInt("port")

	if channel := cmdapp.Config.GetString("slack.startup.channel"); channel != "" {
		cmdapp.LogIf(sc.PostMessage(channel, "", ":robot_face: Я прокинувся і готовий до роботи!"))
	}

	err = StartWebServer(data)
	cmdapp.CheckOrPanic(err, "Can't start web server")
}

func checkDir(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return errors.Errorf("%s is not a dir", dir)
	}
	return nil
}

// threadResolver finds the thread of a shared file from its metadata
type threadResolver struct {
	files pipeline.FileInfoGetter
}

func (r threadResolver) Resolve(fileID, channelID string) (string, error) {
	info, err := r.files.GetFileInfo(fileID)
	if err != nil {
		return "", err
	}
	return info.ThreadTS(channelID), nil
}

func initMetrics(data *ServiceData) error {
	namespace := "transponster"
	data.metrics.eventResponseDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_request_durations_seconds",
			Help:      "Event callback latency distributions.",
		}, nil)
	err := metrics.Register(data.metrics.eventResponseDur)
	if err != nil {
		return err
	}
	data.metrics.actionResponseDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_request_durations_seconds",
			Help:      "Interactive action latency distributions.",
		}, nil)
	return metrics.Register(data.metrics.actionResponseDur)
}
