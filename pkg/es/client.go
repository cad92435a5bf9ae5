// Package es 提供了与 Elasticsearch 交互的客户端功能。
// 这里只索引已完成文件的元数据，用于按文件名搜索；未配置 ES 时整个包保持未就绪，
// 调用方退回到目录内的子串匹配。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fileshare-go/internal/config"
	"fileshare-go/internal/model"
	"fileshare-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	ESClient  *elasticsearch.Client
	indexName string
)

// FileDocument 是文件元数据在 Elasticsearch 中的索引结构。
type FileDocument struct {
	FileID     string `json:"file_id"`
	RoomID     string `json:"room_id"`
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploaded_by"`
	Timestamp  int64  `json:"timestamp"`
}

// Ready 返回客户端是否已初始化。
func Ready() bool {
	return ESClient != nil
}

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	indexName = esCfg.IndexName
	return createIndexIfNotExists(indexName)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := `{
		"mappings": {
			"properties": {
				"file_id":     { "type": "keyword" },
				"room_id":     { "type": "keyword" },
				"name":        { "type": "text" },
				"mime_type":   { "type": "keyword" },
				"size":        { "type": "long" },
				"uploaded_by": { "type": "keyword" },
				"timestamp":   { "type": "long" }
			}
		}
	}`

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexFile 将一个已完成文件的元数据索引到 Elasticsearch。
func IndexFile(ctx context.Context, file *model.StoredFile) error {
	doc := FileDocument{
		FileID:     file.ID,
		RoomID:     file.RoomID,
		Name:       file.Name,
		MimeType:   file.MimeType,
		Size:       file.Size,
		UploadedBy: file.UploadedBy,
		Timestamp:  file.Timestamp.UnixMilli(),
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.FileID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文件元数据到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index file document")
	}
	return nil
}

// DeleteFile 从索引中移除一个文件。
func DeleteFile(ctx context.Context, fileID string) error {
	req := esapi.DeleteRequest{
		Index:      indexName,
		DocumentID: fileID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// 文件从未被索引过也视为删除成功。
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete file document: %s", res.String())
	}
	return nil
}

// SearchFiles 在指定房间内按文件名搜索，返回命中的文件 ID 列表。
func SearchFiles(ctx context.Context, roomID, query string, limit int) ([]string, error) {
	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{"match": map[string]interface{}{"name": query}},
				},
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"room_id": roomID}},
				},
			},
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source FileDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		ids = append(ids, hit.Source.FileID)
	}
	return ids, nil
}
