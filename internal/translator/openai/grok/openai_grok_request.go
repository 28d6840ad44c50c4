// Package grok converts OpenAI chat-completions requests into Grok conversation
// payloads, uploading any attached images first.
package grok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	grokauth "github.com/router-for-me/grok2api/internal/auth/grok"
	"github.com/router-for-me/grok2api/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertOpenAIRequestToGrok builds the conversation payload for modelName.
// fileIDs are the fileMetadataIds of images already uploaded for this request.
func ConvertOpenAIRequestToGrok(cfg *config.Config, modelName string, inputRawJSON []byte, fileIDs []string) ([]byte, error) {
	modelCfg, ok := grokauth.GetGrokModelConfig(modelName)
	if !ok {
		return nil, fmt.Errorf("grok translator: unknown model %q", modelName)
	}

	message, _, _ := ExtractOpenAIContent(inputRawJSON)
	if fileIDs == nil {
		fileIDs = []string{}
	}
	toggles := defaultGrokRequestToggles()

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "temporary", effectiveGrokTemporary(cfg))
	out, _ = sjson.SetBytes(out, "modelName", modelCfg.GrokModel)
	out, _ = sjson.SetBytes(out, "message", message)
	out, _ = sjson.SetBytes(out, "fileAttachments", fileIDs)
	out, _ = sjson.SetBytes(out, "imageAttachments", []string{})
	out, _ = sjson.SetBytes(out, "disableSearch", toggles.disableSearch)
	out, _ = sjson.SetBytes(out, "enableImageGeneration", toggles.enableImageGeneration)
	out, _ = sjson.SetBytes(out, "returnImageBytes", toggles.returnImageBytes)
	out, _ = sjson.SetBytes(out, "enableImageStreaming", toggles.enableImageStreaming)
	out, _ = sjson.SetBytes(out, "imageGenerationCount", toggles.imageGenerationCount)
	out, _ = sjson.SetBytes(out, "forceConcise", toggles.forceConcise)
	out, _ = sjson.SetBytes(out, "toolOverrides", map[string]any{})
	out, _ = sjson.SetBytes(out, "enableSideBySide", toggles.enableSideBySide)
	out, _ = sjson.SetBytes(out, "sendFinalMetadata", toggles.sendFinalMetadata)
	out, _ = sjson.SetBytes(out, "isReasoning", toggles.isReasoning)
	out, _ = sjson.SetBytes(out, "webpageUrls", []string{})
	out, _ = sjson.SetBytes(out, "disableTextFollowUps", toggles.disableTextFollowUps)
	out, _ = sjson.SetBytes(out, "responseMetadata", map[string]any{"requestModelDetails": map[string]string{"modelId": modelCfg.GrokModel}})
	out, _ = sjson.SetBytes(out, "disableMemory", toggles.disableMemory)
	out, _ = sjson.SetBytes(out, "forceSideBySide", toggles.forceSideBySide)
	out, _ = sjson.SetBytes(out, "modelMode", modelCfg.ModelMode)
	out, _ = sjson.SetBytes(out, "isAsyncChat", toggles.isAsyncChat)
	return out, nil
}

// ExtractOpenAIContent flattens the message list into "role: text" lines and
// collects image_url parts in order. plainText joins the text without roles.
func ExtractOpenAIContent(rawJSON []byte) (messageWithRoles, plainText string, images []string) {
	var contentBuilder, plainBuilder strings.Builder
	images = make([]string, 0)

	writeText := func(role, text string) {
		if text == "" {
			return
		}
		contentBuilder.WriteString(role)
		contentBuilder.WriteString(": ")
		contentBuilder.WriteString(text)
		contentBuilder.WriteString("\n")
		plainBuilder.WriteString(text)
	}

	gjson.GetBytes(rawJSON, "messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")
		if content.Type == gjson.String {
			writeText(role, content.String())
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				writeText(role, part.Get("text").String())
				return true
			}
			if imageURL := strings.TrimSpace(part.Get("image_url.url").String()); imageURL != "" {
				images = append(images, imageURL)
			}
			return true
		})
		return true
	})

	messageWithRoles = contentBuilder.String()
	if messageWithRoles == "" {
		messageWithRoles = "user: Hello\n"
	}
	plainText = strings.TrimSpace(plainBuilder.String())
	return messageWithRoles, plainText, images
}

// BuildGrokVideoPayload prepares an imagine request. The first attached image
// is uploaded and turned into a media post; the returned referer points at it.
func BuildGrokVideoPayload(ctx context.Context, up *Uploader, token grokauth.GrokTokenStorage, modelName string, inputRawJSON []byte) (body []byte, referer string, err error) {
	cfg := up.cfg
	modelCfg, ok := grokauth.GetGrokModelConfig(modelName)
	if !ok || !modelCfg.IsVideoModel {
		return nil, "", fmt.Errorf("grok translator: unknown video model %q", modelName)
	}

	messageWithRoles, plainText, images := ExtractOpenAIContent(inputRawJSON)
	if len(images) == 0 {
		log.Warnf("grok translator: video model %q called without images; falling back to text payload", modelName)
		body, err = ConvertOpenAIRequestToGrok(cfg, modelName, inputRawJSON, nil)
		return body, "", err
	}

	imageURL := images[0]
	fileAttachments := []string{}
	imagineURL, postID := "", ""
	if post, errPost := up.createVideoPost(ctx, token, imageURL); errPost == nil {
		imagineURL, postID = post.imagineURL, post.postID
		if post.fileID != "" {
			fileAttachments = append(fileAttachments, post.fileID)
		}
	} else {
		log.Warnf("grok translator: video post creation failed, using source image url: %v", errPost)
		imagineURL = imageURL
	}

	content := plainText
	if content == "" {
		content = strings.TrimSpace(messageWithRoles)
	}
	message := fmt.Sprintf("%s  %s --mode=custom", imagineURL, content)

	body = []byte(`{}`)
	body, _ = sjson.SetBytes(body, "temporary", effectiveGrokTemporary(cfg))
	body, _ = sjson.SetBytes(body, "modelName", modelCfg.GrokModel)
	body, _ = sjson.SetBytes(body, "message", message)
	body, _ = sjson.SetBytes(body, "fileAttachments", fileAttachments)
	body, _ = sjson.SetBytes(body, "toolOverrides", map[string]any{"videoGen": true})
	body, _ = sjson.SetBytes(body, "responseMetadata", map[string]any{"requestModelDetails": map[string]string{"modelId": modelCfg.GrokModel}})
	body, _ = sjson.SetBytes(body, "modelMode", modelCfg.ModelMode)

	if postID != "" {
		referer = imaginePage(cfg, postID)
	}
	return body, referer, nil
}

type grokRequestToggles struct {
	disableSearch         bool
	enableImageGeneration bool
	returnImageBytes      bool
	enableImageStreaming  bool
	imageGenerationCount  int
	forceConcise          bool
	enableSideBySide      bool
	sendFinalMetadata     bool
	isReasoning           bool
	disableTextFollowUps  bool
	disableMemory         bool
	isAsyncChat           bool
	forceSideBySide       bool
}

func defaultGrokRequestToggles() grokRequestToggles {
	return grokRequestToggles{
		enableImageGeneration: true,
		enableImageStreaming:  true,
		imageGenerationCount:  2,
		enableSideBySide:      true,
		sendFinalMetadata:     true,
		disableTextFollowUps:  true,
	}
}

type videoPost struct {
	imagineURL string
	postID     string
	fileID     string
}

func (u *Uploader) createVideoPost(ctx context.Context, token grokauth.GrokTokenStorage, imageURL string) (videoPost, error) {
	var post videoPost
	mediaURL := imageURL
	if fileID, fileURI, err := u.Upload(ctx, token, imageURL); err != nil {
		// Grok still accepts external media URLs for posts.
		log.Warnf("grok translator: upload video source failed: %v", err)
	} else {
		mediaURL = assetURL(u.cfg, fileURI)
		post.fileID = fileID
	}

	body, err := json.Marshal(map[string]any{
		"media_url":  mediaURL,
		"media_type": "MEDIA_POST_TYPE_IMAGE",
	})
	if err != nil {
		return post, fmt.Errorf("encode video post payload: %w", err)
	}

	headers := grokauth.BuildHeaders(u.cfg, token.SSOToken, token.CFClearance, grokauth.HeaderOptions{Path: grokauth.MediaPostPath})
	resp, err := u.client.Post(ctx, grokauth.Endpoint(u.cfg, grokauth.MediaPostPath), headers, body)
	if err != nil {
		return post, fmt.Errorf("video post request: %w", err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	data := resp.Bytes()
	if resp.StatusCode != http.StatusOK {
		return post, fmt.Errorf("video post create failed status=%d body=%s", resp.StatusCode, summarizeResponse(data))
	}

	post.postID = gjson.GetBytes(data, "post.id").String()
	if post.fileID == "" {
		post.fileID = gjson.GetBytes(data, "post.fileId").String()
	}
	switch fileURI := gjson.GetBytes(data, "post.fileUri").String(); {
	case post.postID != "":
		post.imagineURL = imaginePage(u.cfg, post.postID)
	case fileURI != "":
		post.imagineURL = assetURL(u.cfg, "post/"+strings.TrimPrefix(strings.TrimPrefix(fileURI, "/"), "post/"))
	default:
		return post, fmt.Errorf("video post response without id: %s", summarizeResponse(data))
	}
	return post, nil
}

func imaginePage(cfg *config.Config, postID string) string {
	return grokauth.Endpoint(cfg, grokauth.ImaginePath) + "/" + postID
}

// assetURL resolves a Grok file URI against the configured asset host.
func assetURL(cfg *config.Config, fileURI string) string {
	base := config.DefaultAssetBaseURL
	if cfg != nil && strings.TrimSpace(cfg.Grok.AssetBaseURL) != "" {
		base = strings.TrimRight(cfg.Grok.AssetBaseURL, "/")
	}
	uri := strings.TrimSpace(fileURI)
	uri = strings.TrimPrefix(uri, base+"/")
	if strings.HasPrefix(uri, "https://") || strings.HasPrefix(uri, "http://") {
		return uri
	}
	return base + "/" + strings.TrimPrefix(uri, "/")
}

func effectiveGrokTemporary(cfg *config.Config) bool {
	if cfg != nil {
		return cfg.Grok.TemporaryValue()
	}
	return true
}

func summarizeResponse(data []byte) string {
	body := strings.TrimSpace(string(data))
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
