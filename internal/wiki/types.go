package wiki

// DocxType is the only node type whose body can be fetched as markdown
const DocxType = "docx"

type Space struct {
	ID          string `json:"space_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

// Node is one entry of a space tree listing
type Node struct {
	SpaceID         string `json:"space_id"`
	NodeToken       string `json:"node_token"`
	ObjToken        string `json:"obj_token"`
	ObjType         string `json:"obj_type"`
	ParentNodeToken string `json:"parent_node_token"`
	NodeType        string `json:"node_type"`
	Title           string `json:"title"`
	ObjCreateTime   string `json:"obj_create_time"`
	ObjEditTime     string `json:"obj_edit_time"`
	NodeCreateTime  string `json:"node_create_time"`
	HasChild        bool   `json:"has_child"`
}

func (n *Node) IsDocument() bool {
	return n.ObjType == DocxType
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type page[T any] struct {
	Items     []T    `json:"items"`
	PageToken string `json:"page_token"`
	HasMore   bool   `json:"has_more"`
}

type tokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

type contentData struct {
	Content string `json:"content"`
}
