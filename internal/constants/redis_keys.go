package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// ExtractionModulePrefix 结构化提取模块
	ExtractionModulePrefix = "extraction"
	// ApplicationModulePrefix 申请生命周期模块
	ApplicationModulePrefix = "application"
	// WebhookModulePrefix 回调模块
	WebhookModulePrefix = "webhook"

	// EntityRecord 记录实体
	EntityRecord = "record"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityDedup 去重实体
	EntityDedup = "dedup"

	// KeyExtractionRecord 提取记录热缓存 (STRING, JSON)
	// 格式: app:extraction:record:{kind}:{hash}
	KeyExtractionRecord = AppPrefix + ":" + ExtractionModulePrefix + ":" + EntityRecord + ":%s:%s"

	// KeyExtractionLock 提取计算的分布式锁 (STRING)
	// 格式: app:extraction:lock:{kind}:{hash}
	KeyExtractionLock = AppPrefix + ":" + ExtractionModulePrefix + ":" + EntityLock + ":%s:%s"

	// KeyApplicationLock 申请状态迁移的分布式锁 (STRING)
	// 格式: app:application:lock:{applicationID}
	KeyApplicationLock = AppPrefix + ":" + ApplicationModulePrefix + ":" + EntityLock + ":%s"

	// KeyWebhookDedup 回调事件去重标记 (STRING)
	// 格式: app:webhook:dedup:{status}:{callID}
	KeyWebhookDedup = AppPrefix + ":" + WebhookModulePrefix + ":" + EntityDedup + ":%s:%s"
)
