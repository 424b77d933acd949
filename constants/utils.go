package constants

// store key prefixes, also used as lock keys
const NODE_PREFIX = "node/"
const JOB_PREFIX = "job/"
const ESCROW_PREFIX = "escrow/"
const RENTAL_PREFIX = "rental/"
const BALANCE_PREFIX = "balance/"
const HISTORY_PREFIX = "history/"

// celery tasks consumed by the ssh provisioning daemon
const TASK_ACCESS_GRANT string = "market.access_grant"
const TASK_ACCESS_REVOKE string = "market.access_revoke"

// websocket event types
const EVENT_NODE = "node"
const EVENT_JOB = "job"
const EVENT_ESCROW = "escrow"
const EVENT_RENTAL = "rental"

const SECONDS_PER_HOUR = 3600

const MIN_QUALITY_SCORE = 1
const MAX_QUALITY_SCORE = 100
