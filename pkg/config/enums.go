package config

// Depth defines how thorough the generated roadmap and plans should be
type Depth string

const (
	// DepthQuick favors a minimal roadmap with few phases
	DepthQuick Depth = "quick"
	// DepthStandard is the default balance of scope and speed
	DepthStandard Depth = "standard"
	// DepthComprehensive favors an exhaustive roadmap
	DepthComprehensive Depth = "comprehensive"
)

// IsValid checks if the depth is valid
func (d Depth) IsValid() bool {
	return d == DepthQuick || d == DepthStandard || d == DepthComprehensive
}

// ModelProfile selects the agent model tier by intent rather than by name
type ModelProfile string

const (
	// ModelQuality picks the strongest model
	ModelQuality ModelProfile = "quality"
	// ModelBalanced picks the default cost/quality tradeoff
	ModelBalanced ModelProfile = "balanced"
	// ModelBudget picks the cheapest model
	ModelBudget ModelProfile = "budget"
)

// IsValid checks if the model profile is valid
func (m ModelProfile) IsValid() bool {
	return m == ModelQuality || m == ModelBalanced || m == ModelBudget
}

// AgentModel maps the profile to the model alias the agent runtime accepts.
func (m ModelProfile) AgentModel() string {
	switch m {
	case ModelQuality:
		return "opus"
	case ModelBudget:
		return "haiku"
	default:
		return "sonnet"
	}
}

// Channel identifies a notification adapter
type Channel string

const (
	// ChannelWebhook posts the notification JSON to a configured URL
	ChannelWebhook Channel = "webhook"
	// ChannelSlack posts a Block Kit message to a Slack incoming webhook
	ChannelSlack Channel = "slack"
	// ChannelDesktop raises a local desktop notification
	ChannelDesktop Channel = "desktop"
	// ChannelWebPush sends a browser push via the Web Push protocol
	ChannelWebPush Channel = "webpush"
)

// IsValid checks if the channel is valid
func (c Channel) IsValid() bool {
	switch c {
	case ChannelWebhook, ChannelSlack, ChannelDesktop, ChannelWebPush:
		return true
	default:
		return false
	}
}
