package mcp

// Tool represents an MCP tool definition
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema defines the JSON schema for tool input
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a property in the schema
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Default     any                 `json:"default,omitempty"`
}

// DocumentTools defines all available MCP tools
var DocumentTools = []Tool{
	{
		Name:        "document_recall",
		Description: "语义召回：按与查询文本的相似度返回已索引的文档。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"tenant": {
					Type:        "string",
					Description: "租户（留空使用默认租户）",
				},
				"query": {
					Type:        "string",
					Description: "查询内容",
				},
				"collection": {
					Type:        "string",
					Description: "只在该集合中召回（留空则搜索全部集合）",
				},
				"limit": {
					Type:        "integer",
					Description: "返回的最大数量",
					Default:     5,
				},
				"threshold": {
					Type:        "number",
					Description: "最小相似度 (0.0-1.0)",
					Default:     0.5,
				},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:        "document_create",
		Description: "在集合中创建一个文档。允许列表内的集合会自动建立语义索引。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"tenant": {
					Type:        "string",
					Description: "租户（留空使用默认租户）",
				},
				"collection": {
					Type:        "string",
					Description: "集合名称",
				},
				"id": {
					Type:        "string",
					Description: "文档 ID（留空自动生成）",
				},
				"data": {
					Type:        "object",
					Description: "文档内容",
				},
			},
			Required: []string{"collection", "data"},
		},
	},
	{
		Name:        "document_query",
		Description: "按顶层字段等值过滤查询集合中的文档，按创建时间升序返回。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"tenant": {
					Type:        "string",
					Description: "租户（留空使用默认租户）",
				},
				"collection": {
					Type:        "string",
					Description: "集合名称",
				},
				"filters": {
					Type:        "object",
					Description: "字段等值条件，多个条件取交集",
				},
				"limit": {
					Type:        "integer",
					Description: "返回的最大数量",
					Default:     100,
				},
			},
			Required: []string{"collection"},
		},
	},
	{
		Name:        "events_dump",
		Description: "导出事件日志，按写入顺序每行一个 JSON。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"tenant": {
					Type:        "string",
					Description: "租户（留空使用默认租户）",
				},
				"limit": {
					Type:        "integer",
					Description: "最多导出的事件数量",
				},
			},
		},
	},
}
