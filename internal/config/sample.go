package config

import (
	"os"
	"path/filepath"
)

const sampleConfig = `# clipcast configuration
timezone: "Europe/Istanbul"

logging:
  level: "INFO"
  console: true
  file:
    enabled: true
    path: "./logs/clipcast.log"

state:
  driver: "file"
  path: "./state"

generator:
  base_url: "http://localhost:8080"
  timeout: "15m"

upload:
  retry_max: 10
  backoff_cap: "60s"
  drain_timeout: "2m"

channels:
  - name: "motivation_tr"
    schedule: "0 9,15,21 * * *"
    topics:
      - "basari hikayeleri"
      - "motivasyon sozleri"
      - "kisisel gelisim"
      - "hayat dersleri"
      - "pozitif dusunce"
    language: "tr"
    voice: "tr-TR-EmelNeural-Female"
    tags: ["motivasyon", "basari", "kisisel gelisim"]
    daily_video_limit: 3
    min_upload_interval: "30m"

  - name: "tech_en"
    schedule: "0 10,18 * * *"
    topics:
      - "artificial intelligence future"
      - "technology trends"
      - "programming tips"
      - "tech innovations"
      - "digital transformation"
    language: "en"
    voice: "en-US-JennyNeural-Female"
    tags: ["tech", "AI", "programming"]
    daily_video_limit: 2
    min_upload_interval: "1h"
`

// WriteSample writes a starter config for editing. Refuses to overwrite.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(sampleConfig)
	return err
}
