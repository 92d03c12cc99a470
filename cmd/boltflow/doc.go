// Command boltflow runs the scrape orchestration service.
//
// Architecture overview:
//   - HTTP API: internal/api exposes auth, scrape start/status, project deletion, health, metrics, and the
//     /ws/{client_id} observer socket. Start requests are validated before any project or job row exists.
//   - Orchestrator: each accepted scrape creates a project and a pending job, then runs on its own goroutine under
//     scrape.timeout_seconds. Engine progress flows through a bounded drop-oldest queue into the progress bridge,
//     which persists every update before broadcasting it to observers.
//   - Engines: a colly probe fetch, promoted to chromedp when the page looks client-rendered or a screenshot is
//     requested. HTML and screenshots are written to the configured blob store (memory, local, or GCS).
//   - Fanout: observers connected to this process get frames from the hub; with notify.redis_url set, frames are
//     relayed through Redis so every replica's observers see every job. Completed jobs are published to Pub/Sub
//     when pubsub.project_id is set.
//
// Quick checklist:
//   - Configure env vars: BOLTFLOW_AUTH_SECRET_KEY (required), BOLTFLOW_DB_DSN for Postgres (memory otherwise),
//     BOLTFLOW_STORAGE_BACKEND, BOLTFLOW_NOTIFY_REDIS_URL, BOLTFLOW_PUBSUB_PROJECT_ID.
//   - Run locally: boltflow serve --config config.yaml (a .env file in the working directory is loaded first).
//   - Apply migrations ahead of a rollout with boltflow migrate; serve also migrates on start.
package main
